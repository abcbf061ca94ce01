package egl

import "unsafe"

// functions holds every entry point resolved from libEGL.so.1, libGL.so.1
// and eglGetProcAddress.
type functions struct {
	eglGetError            func() int32
	eglGetDisplay          func(nativeDisplay uintptr) uintptr
	eglInitialize          func(dpy uintptr, major, minor *int32) uint32
	eglTerminate           func(dpy uintptr) uint32
	eglChooseConfig        func(dpy uintptr, attribs *int32, configs *uintptr, configSize int32, numConfig *int32) uint32
	eglCreateWindowSurface func(dpy, config, window uintptr, attribs *int32) uintptr
	eglCreateContext       func(dpy, config, share uintptr, attribs *int32) uintptr
	eglMakeCurrent         func(dpy, draw, read, ctx uintptr) uint32
	eglCreateImage         func(dpy, ctx uintptr, target uint32, buffer uintptr, attribs *uintptr) uintptr
	eglDestroyContext      func(dpy, ctx uintptr) uint32
	eglDestroySurface      func(dpy, surface uintptr) uint32
	eglDestroyImage        func(dpy, image uintptr) uint32
	eglSwapInterval        func(dpy uintptr, interval int32) uint32
	eglSwapBuffers         func(dpy, surface uintptr) uint32
	eglGetProcAddress      func(name string) uintptr

	// Extensions from eglGetProcAddress.
	eglExportDMABUFImageQueryMESA func(dpy, image uintptr, fourcc, numPlanes *int32, modifiers *uint64) uint32
	eglExportDMABUFImageMESA      func(dpy, image uintptr, fds, strides, offsets *int32) uint32
	glEGLImageTargetTexture2DOES  func(target uint32, image uintptr)

	glGetError                func() uint32
	glGetString               func(name uint32) string
	glClear                   func(mask uint32)
	glClearColor              func(r, g, b, a float32)
	glGenTextures             func(n int32, textures *uint32)
	glDeleteTextures          func(n int32, textures *uint32)
	glBindTexture             func(target, texture uint32)
	glTexParameteri           func(target, pname uint32, param int32)
	glGetTexLevelParameteriv  func(target uint32, level int32, pname uint32, params *int32)
	glTexImage2D              func(target uint32, level, internalFormat, width, height, border int32, format, typ uint32, pixels unsafe.Pointer)
	glCopyImageSubData        func(srcName, srcTarget uint32, srcLevel, srcX, srcY, srcZ int32, dstName, dstTarget uint32, dstLevel, dstX, dstY, dstZ int32, width, height, depth int32)
	glClearTexImage           func(texture uint32, level int32, format, typ uint32, data unsafe.Pointer)
	glGenFramebuffers         func(n int32, framebuffers *uint32)
	glBindFramebuffer         func(target, framebuffer uint32)
	glDeleteFramebuffers      func(n int32, framebuffers *uint32)
	glViewport                func(x, y, width, height int32)
	glFramebufferTexture2D    func(target, attachment, texTarget, texture uint32, level int32)
	glDrawBuffers             func(n int32, buffers *uint32)
	glCheckFramebufferStatus  func(target uint32) uint32
	glBindBuffer              func(target, buffer uint32)
	glGenBuffers              func(n int32, buffers *uint32)
	glBufferData              func(target uint32, size int, data unsafe.Pointer, usage uint32)
	glBufferSubData           func(target uint32, offset, size int, data unsafe.Pointer)
	glDeleteBuffers           func(n int32, buffers *uint32)
	glGenVertexArrays         func(n int32, arrays *uint32)
	glBindVertexArray         func(array uint32)
	glDeleteVertexArrays      func(n int32, arrays *uint32)
	glCreateProgram           func() uint32
	glCreateShader            func(typ uint32) uint32
	glAttachShader            func(program, shader uint32)
	glBindAttribLocation      func(program, index uint32, name string)
	glCompileShader           func(shader uint32)
	glLinkProgram             func(program uint32)
	glShaderSource            func(shader uint32, count int32, sources **byte, lengths *int32)
	glUseProgram              func(program uint32)
	glGetProgramInfoLog       func(program uint32, bufSize int32, length *int32, infoLog *byte)
	glGetShaderiv             func(shader, pname uint32, params *int32)
	glGetShaderInfoLog        func(shader uint32, bufSize int32, length *int32, infoLog *byte)
	glDeleteProgram           func(program uint32)
	glDeleteShader            func(shader uint32)
	glGetProgramiv            func(program, pname uint32, params *int32)
	glVertexAttribPointer     func(index uint32, size int32, typ uint32, normalized bool, stride int32, offset uintptr)
	glEnableVertexAttribArray func(index uint32)
	glDrawArrays              func(mode uint32, first, count int32)
	glEnable                  func(capability uint32)
	glBlendFunc               func(sfactor, dfactor uint32)
	glGetUniformLocation      func(program uint32, name string) int32
	glUniform1f               func(location int32, v float32)
}

func (f *functions) eglTable() []symbol {
	return []symbol{
		{"eglGetError", &f.eglGetError, true},
		{"eglGetDisplay", &f.eglGetDisplay, true},
		{"eglInitialize", &f.eglInitialize, true},
		{"eglTerminate", &f.eglTerminate, true},
		{"eglChooseConfig", &f.eglChooseConfig, true},
		{"eglCreateWindowSurface", &f.eglCreateWindowSurface, true},
		{"eglCreateContext", &f.eglCreateContext, true},
		{"eglMakeCurrent", &f.eglMakeCurrent, true},
		{"eglCreateImage", &f.eglCreateImage, true},
		{"eglDestroyContext", &f.eglDestroyContext, true},
		{"eglDestroySurface", &f.eglDestroySurface, true},
		{"eglDestroyImage", &f.eglDestroyImage, true},
		{"eglSwapInterval", &f.eglSwapInterval, true},
		{"eglSwapBuffers", &f.eglSwapBuffers, true},
		{"eglGetProcAddress", &f.eglGetProcAddress, true},
	}
}

func (f *functions) glTable() []symbol {
	return []symbol{
		{"glGetError", &f.glGetError, true},
		{"glGetString", &f.glGetString, true},
		{"glClear", &f.glClear, true},
		{"glClearColor", &f.glClearColor, true},
		{"glGenTextures", &f.glGenTextures, true},
		{"glDeleteTextures", &f.glDeleteTextures, true},
		{"glBindTexture", &f.glBindTexture, true},
		{"glTexParameteri", &f.glTexParameteri, true},
		{"glGetTexLevelParameteriv", &f.glGetTexLevelParameteriv, true},
		{"glTexImage2D", &f.glTexImage2D, true},
		{"glCopyImageSubData", &f.glCopyImageSubData, true},
		{"glClearTexImage", &f.glClearTexImage, true},
		{"glGenFramebuffers", &f.glGenFramebuffers, true},
		{"glBindFramebuffer", &f.glBindFramebuffer, true},
		{"glDeleteFramebuffers", &f.glDeleteFramebuffers, true},
		{"glViewport", &f.glViewport, true},
		{"glFramebufferTexture2D", &f.glFramebufferTexture2D, true},
		{"glDrawBuffers", &f.glDrawBuffers, true},
		{"glCheckFramebufferStatus", &f.glCheckFramebufferStatus, true},
		{"glBindBuffer", &f.glBindBuffer, true},
		{"glGenBuffers", &f.glGenBuffers, true},
		{"glBufferData", &f.glBufferData, true},
		{"glBufferSubData", &f.glBufferSubData, true},
		{"glDeleteBuffers", &f.glDeleteBuffers, true},
		{"glGenVertexArrays", &f.glGenVertexArrays, true},
		{"glBindVertexArray", &f.glBindVertexArray, true},
		{"glDeleteVertexArrays", &f.glDeleteVertexArrays, true},
		{"glCreateProgram", &f.glCreateProgram, true},
		{"glCreateShader", &f.glCreateShader, true},
		{"glAttachShader", &f.glAttachShader, true},
		{"glBindAttribLocation", &f.glBindAttribLocation, true},
		{"glCompileShader", &f.glCompileShader, true},
		{"glLinkProgram", &f.glLinkProgram, true},
		{"glShaderSource", &f.glShaderSource, true},
		{"glUseProgram", &f.glUseProgram, true},
		{"glGetProgramInfoLog", &f.glGetProgramInfoLog, true},
		{"glGetShaderiv", &f.glGetShaderiv, true},
		{"glGetShaderInfoLog", &f.glGetShaderInfoLog, true},
		{"glDeleteProgram", &f.glDeleteProgram, true},
		{"glDeleteShader", &f.glDeleteShader, true},
		{"glGetProgramiv", &f.glGetProgramiv, true},
		{"glVertexAttribPointer", &f.glVertexAttribPointer, true},
		{"glEnableVertexAttribArray", &f.glEnableVertexAttribArray, true},
		{"glDrawArrays", &f.glDrawArrays, true},
		{"glEnable", &f.glEnable, true},
		{"glBlendFunc", &f.glBlendFunc, true},
		{"glGetUniformLocation", &f.glGetUniformLocation, true},
		{"glUniform1f", &f.glUniform1f, true},
	}
}

// procTable lists the extensions resolved through eglGetProcAddress. Only
// the image-to-texture binder is required; nothing can be imported without it.
func (f *functions) procTable() []symbol {
	return []symbol{
		{"eglExportDMABUFImageQueryMESA", &f.eglExportDMABUFImageQueryMESA, false},
		{"eglExportDMABUFImageMESA", &f.eglExportDMABUFImageMESA, false},
		{"glEGLImageTargetTexture2DOES", &f.glEGLImageTargetTexture2DOES, true},
	}
}
