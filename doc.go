// Package glesres manages the objects of GL ES contexts and the device
// memory behind them: textures, buffers, renderbuffers and framebuffers.
//
// # Overview
//
// Hardware reads textures and buffers asynchronously, long after the draw
// call that referenced them returned. glesres tracks which objects each
// submitted kick (a batch of hardware work) references, and never lets the
// CPU overwrite or release memory hardware may still read. Depending on the
// operation it waits for the hardware, or it moves the memory to a ghost
// that is released once the kick completes, and continues with a fresh
// allocation.
//
// # Quick Start
//
//	c, err := glesres.NewContext()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	tex := c.GenTextures(1)
//	c.BindTexture(glesres.Texture2D, tex[0])
//	c.TexImage2D(glesres.Image2D, 0, gputypes.TextureFormatRGBA8Unorm, 256, 256, pixels)
//	c.GenerateMipmap(glesres.Texture2D)
//	c.DrawArrays(0, 6)
//	if e := c.GetError(); e != glesres.NoError {
//	    log.Println(e)
//	}
//
// # Textures
//
// A texture is sampled only when its levels are consistent: level 0 defined
// and, for mipmapped sampling, the complete chain down to 1x1 in one format.
// Draws substitute a white 1x1 texture for inconsistent ones. Levels live in
// host memory until a draw makes the texture resident; then they are
// uploaded into one device allocation and the host copies are dropped.
//
// GenerateMipmap filters on the device when the driver allows it and falls
// back to a box filter on the CPU.
//
// # Share groups
//
// Contexts created with WithShareContext share textures, buffers and
// renderbuffers. Framebuffers belong to one context.
//
// # Errors
//
// Entry points do not return errors. As in GL, the first failure is recorded
// and returned by GetError. A failed call leaves previously defined state
// untouched.
package glesres

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
