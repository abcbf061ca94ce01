package egl

import (
	"runtime"
	"unsafe"
)

// Driver implementation for a loaded Context.

func (c *Context) EGLError() int32 { return c.fn.eglGetError() }

func (c *Context) CreateImage(target uint32, attribs []uintptr) uintptr {
	var p *uintptr
	if len(attribs) > 0 {
		p = &attribs[0]
	}
	return c.fn.eglCreateImage(c.display, 0, target, 0, p)
}

func (c *Context) DestroyImage(image uintptr) { c.fn.eglDestroyImage(c.display, image) }

func (c *Context) ImageTargetTexture2D(target uint32, image uintptr) {
	c.fn.glEGLImageTargetTexture2DOES(target, image)
}

func (c *Context) SwapBuffers() { c.fn.eglSwapBuffers(c.display, c.surface) }

func (c *Context) GLError() uint32                   { return c.fn.glGetError() }
func (c *Context) Enable(capability uint32)          { c.fn.glEnable(capability) }
func (c *Context) BlendFunc(sfactor, dfactor uint32) { c.fn.glBlendFunc(sfactor, dfactor) }
func (c *Context) Clear(mask uint32)                 { c.fn.glClear(mask) }
func (c *Context) ClearColor(r, g, b, a float32)     { c.fn.glClearColor(r, g, b, a) }

func (c *Context) Viewport(x, y, width, height int32) { c.fn.glViewport(x, y, width, height) }

func (c *Context) GenTexture() uint32 {
	var tex uint32
	c.fn.glGenTextures(1, &tex)
	return tex
}

func (c *Context) DeleteTexture(texture uint32) { c.fn.glDeleteTextures(1, &texture) }

func (c *Context) BindTexture(target, texture uint32) { c.fn.glBindTexture(target, texture) }

func (c *Context) TexParameteri(target, pname uint32, param int32) {
	c.fn.glTexParameteri(target, pname, param)
}

func (c *Context) TexLevelParameteri(target uint32, level int32, pname uint32) int32 {
	var v int32
	c.fn.glGetTexLevelParameteriv(target, level, pname, &v)
	return v
}

func (c *Context) TexImage2D(target uint32, level, internalFormat, width, height int32, format, typ uint32, pixels []byte) {
	var p unsafe.Pointer
	if len(pixels) > 0 {
		p = unsafe.Pointer(&pixels[0])
	}
	c.fn.glTexImage2D(target, level, internalFormat, width, height, 0, format, typ, p)
}

func (c *Context) GenFramebuffer() uint32 {
	var fb uint32
	c.fn.glGenFramebuffers(1, &fb)
	return fb
}

func (c *Context) DeleteFramebuffer(framebuffer uint32) {
	c.fn.glDeleteFramebuffers(1, &framebuffer)
}

func (c *Context) BindFramebuffer(target, framebuffer uint32) {
	c.fn.glBindFramebuffer(target, framebuffer)
}

func (c *Context) FramebufferTexture2D(target, attachment, texTarget, texture uint32, level int32) {
	c.fn.glFramebufferTexture2D(target, attachment, texTarget, texture, level)
}

func (c *Context) DrawBuffers(buffers ...uint32) {
	if len(buffers) == 0 {
		return
	}
	c.fn.glDrawBuffers(int32(len(buffers)), &buffers[0])
}

func (c *Context) CheckFramebufferStatus(target uint32) uint32 {
	return c.fn.glCheckFramebufferStatus(target)
}

func (c *Context) GenBuffer() uint32 {
	var buf uint32
	c.fn.glGenBuffers(1, &buf)
	return buf
}

func (c *Context) DeleteBuffer(buffer uint32)       { c.fn.glDeleteBuffers(1, &buffer) }
func (c *Context) BindBuffer(target, buffer uint32) { c.fn.glBindBuffer(target, buffer) }

func (c *Context) BufferData(target uint32, size int, usage uint32) {
	c.fn.glBufferData(target, size, nil, usage)
}

func (c *Context) BufferSubData(target uint32, offset int, data []float32) {
	if len(data) == 0 {
		return
	}
	c.fn.glBufferSubData(target, offset, len(data)*4, unsafe.Pointer(&data[0]))
}

func (c *Context) GenVertexArray() uint32 {
	var vao uint32
	c.fn.glGenVertexArrays(1, &vao)
	return vao
}

func (c *Context) DeleteVertexArray(array uint32) { c.fn.glDeleteVertexArrays(1, &array) }
func (c *Context) BindVertexArray(array uint32)   { c.fn.glBindVertexArray(array) }

func (c *Context) EnableVertexAttribArray(index uint32) { c.fn.glEnableVertexAttribArray(index) }

func (c *Context) VertexAttribPointer(index uint32, size int32, typ uint32, normalized bool, stride int32, offset uintptr) {
	c.fn.glVertexAttribPointer(index, size, typ, normalized, stride, offset)
}

func (c *Context) CreateShader(typ uint32) uint32 { return c.fn.glCreateShader(typ) }

func (c *Context) ShaderSource(shader uint32, source string) {
	src := append([]byte(source), 0)
	p := &src[0]

	// glShaderSource takes a pointer to a pointer; pin the inner one.
	var pinner runtime.Pinner
	pinner.Pin(p)
	defer pinner.Unpin()

	c.fn.glShaderSource(shader, 1, &p, nil)
}

func (c *Context) CompileShader(shader uint32) { c.fn.glCompileShader(shader) }

func (c *Context) ShaderParameter(shader, pname uint32) int32 {
	var v int32
	c.fn.glGetShaderiv(shader, pname, &v)
	return v
}

func (c *Context) ShaderInfoLog(shader uint32) string {
	n := c.ShaderParameter(shader, GL_INFO_LOG_LENGTH)
	if n <= 1 {
		return ""
	}
	buf := make([]byte, n)
	var length int32
	c.fn.glGetShaderInfoLog(shader, n, &length, &buf[0])
	return string(buf[:length])
}

func (c *Context) DeleteShader(shader uint32)          { c.fn.glDeleteShader(shader) }
func (c *Context) CreateProgram() uint32               { return c.fn.glCreateProgram() }
func (c *Context) AttachShader(program, shader uint32) { c.fn.glAttachShader(program, shader) }

func (c *Context) BindAttribLocation(program, index uint32, name string) {
	c.fn.glBindAttribLocation(program, index, name)
}

func (c *Context) LinkProgram(program uint32) { c.fn.glLinkProgram(program) }

func (c *Context) ProgramParameter(program, pname uint32) int32 {
	var v int32
	c.fn.glGetProgramiv(program, pname, &v)
	return v
}

func (c *Context) ProgramInfoLog(program uint32) string {
	n := c.ProgramParameter(program, GL_INFO_LOG_LENGTH)
	if n <= 1 {
		return ""
	}
	buf := make([]byte, n)
	var length int32
	c.fn.glGetProgramInfoLog(program, n, &length, &buf[0])
	return string(buf[:length])
}

func (c *Context) UseProgram(program uint32)    { c.fn.glUseProgram(program) }
func (c *Context) DeleteProgram(program uint32) { c.fn.glDeleteProgram(program) }

func (c *Context) UniformLocation(program uint32, name string) int32 {
	return c.fn.glGetUniformLocation(program, name)
}

func (c *Context) Uniform1f(location int32, v float32) { c.fn.glUniform1f(location, v) }

func (c *Context) DrawArrays(mode uint32, first, count int32) { c.fn.glDrawArrays(mode, first, count) }

var _ Driver = (*Context)(nil)
