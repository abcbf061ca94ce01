package egl

import (
	"errors"
	"fmt"
)

// ErrImportFailed is returned when the driver rejects a DMA-BUF import.
var ErrImportFailed = errors.New("egl: dma-buf import failed")

// DMABUF describes a single-plane DMA-BUF to import.
type DMABUF struct {
	FD     int
	FourCC uint32
	Width  int
	Height int
	Stride uint32
	Offset uint32
}

// NewTexture generates a 2D texture with clamp-to-edge wrapping and linear
// filtering.
func NewTexture(drv Driver) uint32 {
	tex := drv.GenTexture()
	drv.BindTexture(GL_TEXTURE_2D, tex)
	drv.TexParameteri(GL_TEXTURE_2D, GL_TEXTURE_WRAP_S, GL_CLAMP_TO_EDGE)
	drv.TexParameteri(GL_TEXTURE_2D, GL_TEXTURE_WRAP_T, GL_CLAMP_TO_EDGE)
	drv.TexParameteri(GL_TEXTURE_2D, GL_TEXTURE_MAG_FILTER, GL_LINEAR)
	drv.TexParameteri(GL_TEXTURE_2D, GL_TEXTURE_MIN_FILTER, GL_LINEAR)
	drv.BindTexture(GL_TEXTURE_2D, 0)
	return tex
}

// ImportDMABUF binds buf to texture through a transient EGLImage. The image
// is destroyed right after binding on every path; the texture keeps the
// storage alive. The caller still owns buf.FD.
func ImportDMABUF(drv Driver, texture uint32, buf DMABUF) error {
	drainErrors(drv)

	attribs := []uintptr{
		EGL_LINUX_DRM_FOURCC_EXT, uintptr(buf.FourCC),
		EGL_WIDTH, uintptr(buf.Width),
		EGL_HEIGHT, uintptr(buf.Height),
		EGL_DMA_BUF_PLANE0_FD_EXT, uintptr(buf.FD),
		EGL_DMA_BUF_PLANE0_OFFSET_EXT, uintptr(buf.Offset),
		EGL_DMA_BUF_PLANE0_PITCH_EXT, uintptr(buf.Stride),
		EGL_NONE,
	}

	image := drv.CreateImage(EGL_LINUX_DMA_BUF_EXT, attribs)
	if image == 0 {
		return fmt.Errorf("%w: eglCreateImage: egl error 0x%x", ErrImportFailed, drv.EGLError())
	}

	drv.BindTexture(GL_TEXTURE_2D, texture)
	drv.ImageTargetTexture2D(GL_TEXTURE_2D, image)
	glErr := drv.GLError()
	eglErr := drv.EGLError()
	drv.DestroyImage(image)
	drv.BindTexture(GL_TEXTURE_2D, 0)

	if glErr != GL_NO_ERROR || eglErr != EGL_SUCCESS {
		return fmt.Errorf("%w: bind %dx%d fourcc 0x%08x: gl error 0x%x, egl error 0x%x",
			ErrImportFailed, buf.Width, buf.Height, buf.FourCC, glErr, eglErr)
	}
	return nil
}

// drainErrors drops stale error flags so the checks after an import only see
// that import. GL keeps one flag per error kind, so a few reads suffice.
func drainErrors(drv Driver) {
	for i := 0; i < 8; i++ {
		if drv.GLError() == GL_NO_ERROR {
			break
		}
	}
	drv.EGLError()
}
