package glesres

import (
	"errors"
	"fmt"

	"github.com/gogpu/glesres/internal/bufobj"
	"github.com/gogpu/glesres/internal/devmem"
	"github.com/gogpu/glesres/internal/krm"
	"github.com/gogpu/glesres/internal/names"
	"github.com/gogpu/glesres/internal/texture"
)

// Error is a GL error code as returned by GetError.
type Error uint32

// GL error codes.
const (
	NoError                     Error = 0
	InvalidEnum                 Error = 0x0500
	InvalidValue                Error = 0x0501
	InvalidOperation            Error = 0x0502
	OutOfMemory                 Error = 0x0505
	InvalidFramebufferOperation Error = 0x0506
)

// String returns the GL name of the code.
func (e Error) String() string {
	switch e {
	case NoError:
		return "GL_NO_ERROR"
	case InvalidEnum:
		return "GL_INVALID_ENUM"
	case InvalidValue:
		return "GL_INVALID_VALUE"
	case InvalidOperation:
		return "GL_INVALID_OPERATION"
	case OutOfMemory:
		return "GL_OUT_OF_MEMORY"
	case InvalidFramebufferOperation:
		return "GL_INVALID_FRAMEBUFFER_OPERATION"
	default:
		return fmt.Sprintf("Error(%#x)", uint32(e))
	}
}

// Entry point errors that have no counterpart in the internal packages.
var (
	errInvalidEnum      = errors.New("glesres: invalid enum")
	errInvalidValue     = errors.New("glesres: invalid value")
	errInvalidOperation = errors.New("glesres: invalid operation")
	errIncompleteFB     = errors.New("glesres: framebuffer incomplete")

	// ErrContextDestroyed is returned when sharing with a destroyed context.
	ErrContextDestroyed = errors.New("glesres: context destroyed")
)

// errorCode classifies err. Device memory exhaustion, failed kicks and drain
// timeouts are all reported as OutOfMemory; so is any error not recognised,
// since it can only come from the device.
func errorCode(err error) Error {
	switch {
	case err == nil:
		return NoError
	case errors.Is(err, errInvalidEnum),
		errors.Is(err, texture.ErrInvalidFormat),
		errors.Is(err, bufobj.ErrInvalidAccess):
		return InvalidEnum
	case errors.Is(err, errInvalidValue),
		errors.Is(err, texture.ErrInvalidValue),
		errors.Is(err, bufobj.ErrInvalidValue),
		errors.Is(err, devmem.ErrOutOfRange),
		errors.Is(err, names.ErrInvalidCount):
		return InvalidValue
	case errors.Is(err, errInvalidOperation),
		errors.Is(err, texture.ErrNotMipmappable),
		errors.Is(err, texture.ErrNonPowerOfTwo),
		errors.Is(err, texture.ErrInconsistent),
		errors.Is(err, bufobj.ErrMapped),
		errors.Is(err, bufobj.ErrNotMapped),
		errors.Is(err, bufobj.ErrNoStorage),
		errors.Is(err, names.ErrNotGenerated):
		return InvalidOperation
	case errors.Is(err, errIncompleteFB):
		return InvalidFramebufferOperation
	case errors.Is(err, devmem.ErrOutOfMemory),
		errors.Is(err, krm.ErrKickFailed),
		errors.Is(err, krm.ErrWaitTimeout):
		return OutOfMemory
	default:
		return OutOfMemory
	}
}

// setError records the code of err unless an earlier error is still pending.
func (c *Context) setError(err error) {
	if err == nil {
		return
	}
	code := errorCode(err)
	Logger().Debug("glesres: error", "code", code, "err", err)
	if c.err == NoError {
		c.err = code
	}
}

// GetError returns the first error recorded since the previous call and
// clears it.
func (c *Context) GetError() Error {
	e := c.err
	c.err = NoError
	return e
}
