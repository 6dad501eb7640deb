package glesres

import (
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/glesres/internal/krm"
)

// Kicker submits hardware work and reports its completion.
type Kicker = krm.Kicker

// KickFlags select how a kick is submitted.
type KickFlags = krm.KickFlags

// Kick flags.
const (
	KickWaitForTA    = krm.KickWaitForTA
	KickWaitFor3D    = krm.KickWaitFor3D
	KickLastInScene  = krm.KickLastInScene
	KickDiscardScene = krm.KickDiscardScene
)

// Option configures a Context during creation.
//
// Example:
//
//	// In-process device with a 64 MB budget
//	c, err := glesres.NewContext(glesres.WithMemoryBudget(64 << 20))
//
//	// Second context sharing objects with the first
//	c2, err := glesres.NewContext(glesres.WithShareContext(c))
type Option func(*options)

// options holds optional configuration for Context creation.
type options struct {
	device       hal.Device
	queue        hal.Queue
	kicker       Kicker
	budget       uint64
	waitRetries  int
	pollInterval time.Duration
	adapter      gpucontext.AdapterInfo
	hardwareMips bool
	workers      int
	share        *Context
}

// defaultOptions returns the default context options.
func defaultOptions() options {
	return options{
		hardwareMips: true,
	}
}

// WithDevice sets the HAL device and queue backing all device memory.
// Without it an in-process noop device is used.
func WithDevice(device hal.Device, queue hal.Queue) Option {
	return func(o *options) {
		o.device = device
		o.queue = queue
	}
}

// WithKicker sets the collaborator that submits hardware kicks.
// Defaults to submitting on the device queue.
func WithKicker(k Kicker) Option {
	return func(o *options) {
		o.kicker = k
	}
}

// WithMemoryBudget limits the device memory of the share group, in bytes.
func WithMemoryBudget(bytes uint64) Option {
	return func(o *options) {
		o.budget = bytes
	}
}

// WithWaitPolicy sets how long a drain waits for hardware: at most retries
// polls, interval apart. A drain that runs out of polls fails with
// GL_OUT_OF_MEMORY.
func WithWaitPolicy(retries int, interval time.Duration) Option {
	return func(o *options) {
		o.waitRetries = retries
		o.pollInterval = interval
	}
}

// WithAdapter describes the device. Software adapters generate mipmaps on
// the CPU.
func WithAdapter(info gpucontext.AdapterInfo) Option {
	return func(o *options) {
		o.adapter = info
	}
}

// WithHardwareMipmaps enables or disables the hardware mipmap path.
// Enabled by default.
func WithHardwareMipmaps(enabled bool) Option {
	return func(o *options) {
		o.hardwareMips = enabled
	}
}

// WithMipmapWorkers sets the number of workers used by software mipmap
// generation. 0 uses GOMAXPROCS.
func WithMipmapWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithShareContext makes the new context share textures, buffers and
// renderbuffers with share. Device options are ignored: the share group
// keeps the device it was created with.
func WithShareContext(share *Context) Option {
	return func(o *options) {
		o.share = share
	}
}
