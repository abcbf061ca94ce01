// Package egl loads libEGL/libGL at runtime and provides a headless GLES2
// context that can import DMA-BUF framebuffers as textures.
package egl

// EGL constants.
const (
	EGL_SUCCESS                    = 0x3000
	EGL_BUFFER_SIZE                = 0x3020
	EGL_RENDERABLE_TYPE            = 0x3040
	EGL_OPENGL_ES2_BIT             = 0x0004
	EGL_NONE                       = 0x3038
	EGL_CONTEXT_CLIENT_VERSION     = 0x3098
	EGL_WIDTH                      = 0x3057
	EGL_HEIGHT                     = 0x3056
	EGL_LINUX_DMA_BUF_EXT          = 0x3270
	EGL_LINUX_DRM_FOURCC_EXT       = 0x3271
	EGL_DMA_BUF_PLANE0_FD_EXT      = 0x3272
	EGL_DMA_BUF_PLANE0_OFFSET_EXT  = 0x3273
	EGL_DMA_BUF_PLANE0_PITCH_EXT   = 0x3274
	EGL_DMA_BUF_PLANE0_MODIFIER_LO = 0x3443
	EGL_DMA_BUF_PLANE0_MODIFIER_HI = 0x3444
)

// GL constants.
const (
	GL_NO_ERROR             = 0
	GL_TRIANGLES            = 0x0004
	GL_TEXTURE_2D           = 0x0DE1
	GL_BLEND                = 0x0BE2
	GL_SRC_ALPHA            = 0x0302
	GL_ONE_MINUS_SRC_ALPHA  = 0x0303
	GL_COLOR_BUFFER_BIT     = 0x4000
	GL_TEXTURE_WIDTH        = 0x1000
	GL_TEXTURE_HEIGHT       = 0x1001
	GL_TEXTURE_MAG_FILTER   = 0x2800
	GL_TEXTURE_MIN_FILTER   = 0x2801
	GL_TEXTURE_WRAP_S       = 0x2802
	GL_TEXTURE_WRAP_T       = 0x2803
	GL_LINEAR               = 0x2601
	GL_CLAMP_TO_EDGE        = 0x812F
	GL_RGBA                 = 0x1908
	GL_UNSIGNED_BYTE        = 0x1401
	GL_FLOAT                = 0x1406
	GL_FRAMEBUFFER          = 0x8D40
	GL_COLOR_ATTACHMENT0    = 0x8CE0
	GL_FRAMEBUFFER_COMPLETE = 0x8CD5
	GL_ARRAY_BUFFER         = 0x8892
	GL_STREAM_DRAW          = 0x88E0
	GL_FRAGMENT_SHADER      = 0x8B30
	GL_VERTEX_SHADER        = 0x8B31
	GL_COMPILE_STATUS       = 0x8B81
	GL_LINK_STATUS          = 0x8B82
	GL_INFO_LOG_LENGTH      = 0x8B84
	GL_VENDOR               = 0x1F00
	GL_RENDERER             = 0x1F01
	GL_VERSION              = 0x1F02
)

// Driver is the set of EGL and GL entry points the capture pipeline uses. A
// loaded *Context implements it; tests use egltest.Fake.
//
// Every Driver carries the invariant established by Load: GL_BLEND is enabled
// with SRC_ALPHA, ONE_MINUS_SRC_ALPHA. Callers rely on it and do not re-set it.
type Driver interface {
	EGLError() int32
	CreateImage(target uint32, attribs []uintptr) uintptr
	DestroyImage(image uintptr)
	ImageTargetTexture2D(target uint32, image uintptr)
	SwapBuffers()

	GLError() uint32
	Enable(capability uint32)
	BlendFunc(sfactor, dfactor uint32)
	Clear(mask uint32)
	ClearColor(r, g, b, a float32)
	Viewport(x, y, width, height int32)

	GenTexture() uint32
	DeleteTexture(texture uint32)
	BindTexture(target, texture uint32)
	TexParameteri(target, pname uint32, param int32)
	TexLevelParameteri(target uint32, level int32, pname uint32) int32
	TexImage2D(target uint32, level, internalFormat, width, height int32, format, typ uint32, pixels []byte)

	GenFramebuffer() uint32
	DeleteFramebuffer(framebuffer uint32)
	BindFramebuffer(target, framebuffer uint32)
	FramebufferTexture2D(target, attachment, texTarget, texture uint32, level int32)
	DrawBuffers(buffers ...uint32)
	CheckFramebufferStatus(target uint32) uint32

	GenBuffer() uint32
	DeleteBuffer(buffer uint32)
	BindBuffer(target, buffer uint32)
	BufferData(target uint32, size int, usage uint32)
	BufferSubData(target uint32, offset int, data []float32)
	GenVertexArray() uint32
	DeleteVertexArray(array uint32)
	BindVertexArray(array uint32)
	EnableVertexAttribArray(index uint32)
	VertexAttribPointer(index uint32, size int32, typ uint32, normalized bool, stride int32, offset uintptr)

	CreateShader(typ uint32) uint32
	ShaderSource(shader uint32, source string)
	CompileShader(shader uint32)
	ShaderParameter(shader, pname uint32) int32
	ShaderInfoLog(shader uint32) string
	DeleteShader(shader uint32)
	CreateProgram() uint32
	AttachShader(program, shader uint32)
	BindAttribLocation(program, index uint32, name string)
	LinkProgram(program uint32)
	ProgramParameter(program, pname uint32) int32
	ProgramInfoLog(program uint32) string
	UseProgram(program uint32)
	DeleteProgram(program uint32)
	UniformLocation(program uint32, name string) int32
	Uniform1f(location int32, v float32)
	DrawArrays(mode uint32, first, count int32)
}

// NativeDisplay is the window-system display EGL binds to.
type NativeDisplay interface {
	// NativeHandle is the Xlib Display pointer.
	NativeHandle() uintptr
	// CreateHiddenWindow creates an unmapped 1x1 window on the root.
	CreateHiddenWindow() (uintptr, error)
	DestroyWindow(window uintptr)
}
