// Package egltest provides a recording in-memory egl.Driver.
package egltest

import (
	"kmscap/internal/egl"
)

// Texture is a fake texture object.
type Texture struct {
	Width  int32
	Height int32
	// Image holds the attributes of the last image bound to the texture.
	Image map[uintptr]uintptr
}

// Program is a fake linked program.
type Program struct {
	Shaders  []uint32
	Attribs  map[string]uint32
	Linked   bool
	Uniforms map[int32]float32
}

// Draw is one recorded glDrawArrays call.
type Draw struct {
	Framebuffer uint32
	Program     uint32
	Texture     uint32
	Viewport    [4]int32
	Vertices    []float32
	Rotation    float32
	Count       int32
}

// Fake implements egl.Driver in memory. It tracks live objects, texture
// sizes from imported images or uploads, and every draw. Failure toggles
// make individual calls fail.
type Fake struct {
	Textures     map[uint32]*Texture
	Framebuffers map[uint32]uint32
	Buffers      map[uint32][]float32
	VertexArrays map[uint32]bool
	Shaders      map[uint32]string
	Programs     map[uint32]*Program
	Images       map[uintptr]map[uintptr]uintptr

	ImagesCreated int
	Enabled       map[uint32]bool
	BlendSrc      uint32
	BlendDst      uint32
	Draws         []Draw
	Clears        int
	Swaps         int
	SwapIntervals []int
	Unloads       int

	FailCreateImage       bool
	BindError             uint32
	IncompleteFramebuffer bool
	FailCompile           bool
	FailLink              bool

	next        uint32
	nextImage   uintptr
	texture     uint32
	framebuffer uint32
	program     uint32
	vertexArray uint32
	arrayBuffer uint32
	viewport    [4]int32
	glErrors    []uint32
	eglError    int32
}

// New returns a Fake with blending set up the way egl.Load leaves it.
func New() *Fake {
	f := &Fake{
		Textures:     map[uint32]*Texture{},
		Framebuffers: map[uint32]uint32{},
		Buffers:      map[uint32][]float32{},
		VertexArrays: map[uint32]bool{},
		Shaders:      map[uint32]string{},
		Programs:     map[uint32]*Program{},
		Images:       map[uintptr]map[uintptr]uintptr{},
		Enabled:      map[uint32]bool{},
	}
	f.Enable(egl.GL_BLEND)
	f.BlendFunc(egl.GL_SRC_ALPHA, egl.GL_ONE_MINUS_SRC_ALPHA)
	return f
}

func (f *Fake) id() uint32 {
	f.next++
	return f.next
}

func (f *Fake) pushError(code uint32) { f.glErrors = append(f.glErrors, code) }

// Live counts every GL object and EGL image still allocated.
func (f *Fake) Live() int {
	return len(f.Textures) + len(f.Framebuffers) + len(f.Buffers) + len(f.VertexArrays) +
		len(f.Shaders) + len(f.Programs) + len(f.Images)
}

// SetTextureSize sets a texture's dimensions directly.
func (f *Fake) SetTextureSize(texture uint32, width, height int32) {
	if t, ok := f.Textures[texture]; ok {
		t.Width, t.Height = width, height
	}
}

// Bound reports the currently bound texture, framebuffer, program and
// vertex array.
func (f *Fake) Bound() (texture, framebuffer, program, vertexArray uint32) {
	return f.texture, f.framebuffer, f.program, f.vertexArray
}

func (f *Fake) EGLError() int32 {
	err := f.eglError
	f.eglError = egl.EGL_SUCCESS
	if err == 0 {
		return egl.EGL_SUCCESS
	}
	return err
}

// SetEGLError makes the next EGLError call report code.
func (f *Fake) SetEGLError(code int32) { f.eglError = code }

func (f *Fake) CreateImage(target uint32, attribs []uintptr) uintptr {
	if f.FailCreateImage || target != egl.EGL_LINUX_DMA_BUF_EXT {
		f.eglError = 0x300C // EGL_BAD_PARAMETER
		return 0
	}
	kv := map[uintptr]uintptr{}
	for i := 0; i+1 < len(attribs) && attribs[i] != egl.EGL_NONE; i += 2 {
		kv[attribs[i]] = attribs[i+1]
	}
	f.nextImage++
	f.Images[f.nextImage] = kv
	f.ImagesCreated++
	return f.nextImage
}

func (f *Fake) DestroyImage(image uintptr) { delete(f.Images, image) }

func (f *Fake) ImageTargetTexture2D(target uint32, image uintptr) {
	kv, ok := f.Images[image]
	t, bound := f.Textures[f.texture]
	if !ok || !bound {
		f.pushError(0x0502) // GL_INVALID_OPERATION
		return
	}
	if f.BindError != 0 {
		f.pushError(f.BindError)
		return
	}
	t.Width = int32(kv[egl.EGL_WIDTH])
	t.Height = int32(kv[egl.EGL_HEIGHT])
	t.Image = kv
}

func (f *Fake) SwapBuffers() { f.Swaps++ }

// SwapInterval and Unload let the fake stand in for a loaded context.
func (f *Fake) SwapInterval(interval int) { f.SwapIntervals = append(f.SwapIntervals, interval) }
func (f *Fake) Unload()                   { f.Unloads++ }

func (f *Fake) GLError() uint32 {
	if len(f.glErrors) == 0 {
		return egl.GL_NO_ERROR
	}
	err := f.glErrors[0]
	f.glErrors = f.glErrors[1:]
	return err
}

func (f *Fake) Enable(capability uint32) { f.Enabled[capability] = true }

func (f *Fake) BlendFunc(sfactor, dfactor uint32) { f.BlendSrc, f.BlendDst = sfactor, dfactor }
func (f *Fake) Clear(mask uint32)                 { f.Clears++ }
func (f *Fake) ClearColor(r, g, b, a float32)     {}

func (f *Fake) Viewport(x, y, width, height int32) { f.viewport = [4]int32{x, y, width, height} }

func (f *Fake) GenTexture() uint32 {
	id := f.id()
	f.Textures[id] = &Texture{}
	return id
}

func (f *Fake) DeleteTexture(texture uint32) {
	delete(f.Textures, texture)
	if f.texture == texture {
		f.texture = 0
	}
}

func (f *Fake) BindTexture(target, texture uint32) { f.texture = texture }

func (f *Fake) TexParameteri(target, pname uint32, param int32) {}

func (f *Fake) TexLevelParameteri(target uint32, level int32, pname uint32) int32 {
	t, ok := f.Textures[f.texture]
	if !ok {
		return 0
	}
	switch pname {
	case egl.GL_TEXTURE_WIDTH:
		return t.Width
	case egl.GL_TEXTURE_HEIGHT:
		return t.Height
	}
	return 0
}

func (f *Fake) TexImage2D(target uint32, level, internalFormat, width, height int32, format, typ uint32, pixels []byte) {
	t, ok := f.Textures[f.texture]
	if !ok {
		f.pushError(0x0502)
		return
	}
	t.Width, t.Height = width, height
}

func (f *Fake) GenFramebuffer() uint32 {
	id := f.id()
	f.Framebuffers[id] = 0
	return id
}

func (f *Fake) DeleteFramebuffer(framebuffer uint32) { delete(f.Framebuffers, framebuffer) }

func (f *Fake) BindFramebuffer(target, framebuffer uint32) { f.framebuffer = framebuffer }

func (f *Fake) FramebufferTexture2D(target, attachment, texTarget, texture uint32, level int32) {
	if _, ok := f.Framebuffers[f.framebuffer]; ok {
		f.Framebuffers[f.framebuffer] = texture
	}
}

func (f *Fake) DrawBuffers(buffers ...uint32) {}

func (f *Fake) CheckFramebufferStatus(target uint32) uint32 {
	tex, ok := f.Framebuffers[f.framebuffer]
	if !ok || f.IncompleteFramebuffer {
		return 0x8CD6 // GL_FRAMEBUFFER_INCOMPLETE_ATTACHMENT
	}
	t, ok := f.Textures[tex]
	if !ok || t.Width == 0 || t.Height == 0 {
		return 0x8CD6
	}
	return egl.GL_FRAMEBUFFER_COMPLETE
}

func (f *Fake) GenBuffer() uint32 {
	id := f.id()
	f.Buffers[id] = nil
	return id
}

func (f *Fake) DeleteBuffer(buffer uint32) {
	delete(f.Buffers, buffer)
	if f.arrayBuffer == buffer {
		f.arrayBuffer = 0
	}
}

func (f *Fake) BindBuffer(target, buffer uint32) { f.arrayBuffer = buffer }

func (f *Fake) BufferData(target uint32, size int, usage uint32) {
	if _, ok := f.Buffers[f.arrayBuffer]; !ok {
		f.pushError(0x0502)
		return
	}
	f.Buffers[f.arrayBuffer] = make([]float32, size/4)
}

func (f *Fake) BufferSubData(target uint32, offset int, data []float32) {
	buf, ok := f.Buffers[f.arrayBuffer]
	if !ok || offset/4+len(data) > len(buf) {
		f.pushError(0x0501) // GL_INVALID_VALUE
		return
	}
	copy(buf[offset/4:], data)
}

func (f *Fake) GenVertexArray() uint32 {
	id := f.id()
	f.VertexArrays[id] = true
	return id
}

func (f *Fake) DeleteVertexArray(array uint32) { delete(f.VertexArrays, array) }
func (f *Fake) BindVertexArray(array uint32)   { f.vertexArray = array }

func (f *Fake) EnableVertexAttribArray(index uint32) {}

func (f *Fake) VertexAttribPointer(index uint32, size int32, typ uint32, normalized bool, stride int32, offset uintptr) {
}

func (f *Fake) CreateShader(typ uint32) uint32 {
	id := f.id()
	f.Shaders[id] = ""
	return id
}

func (f *Fake) ShaderSource(shader uint32, source string) { f.Shaders[shader] = source }
func (f *Fake) CompileShader(shader uint32)               {}

func (f *Fake) ShaderParameter(shader, pname uint32) int32 {
	if pname == egl.GL_COMPILE_STATUS {
		if f.FailCompile {
			return 0
		}
		return 1
	}
	return 0
}

func (f *Fake) ShaderInfoLog(shader uint32) string {
	if f.FailCompile {
		return "0:1(1): error: syntax error"
	}
	return ""
}

func (f *Fake) DeleteShader(shader uint32) { delete(f.Shaders, shader) }

func (f *Fake) CreateProgram() uint32 {
	id := f.id()
	f.Programs[id] = &Program{Attribs: map[string]uint32{}, Uniforms: map[int32]float32{}}
	return id
}

func (f *Fake) AttachShader(program, shader uint32) {
	if p, ok := f.Programs[program]; ok {
		p.Shaders = append(p.Shaders, shader)
	}
}

func (f *Fake) BindAttribLocation(program, index uint32, name string) {
	if p, ok := f.Programs[program]; ok {
		p.Attribs[name] = index
	}
}

func (f *Fake) LinkProgram(program uint32) {
	if p, ok := f.Programs[program]; ok {
		p.Linked = !f.FailLink
	}
}

func (f *Fake) ProgramParameter(program, pname uint32) int32 {
	p, ok := f.Programs[program]
	if ok && pname == egl.GL_LINK_STATUS && p.Linked {
		return 1
	}
	return 0
}

func (f *Fake) ProgramInfoLog(program uint32) string {
	if f.FailLink {
		return "error: linking failed"
	}
	return ""
}

func (f *Fake) UseProgram(program uint32)    { f.program = program }
func (f *Fake) DeleteProgram(program uint32) { delete(f.Programs, program) }

// UniformLocation returns the program id as the location of its only
// uniform, so locations are distinct per program.
func (f *Fake) UniformLocation(program uint32, name string) int32 {
	if _, ok := f.Programs[program]; !ok {
		return -1
	}
	return int32(program)
}

func (f *Fake) Uniform1f(location int32, v float32) {
	if p, ok := f.Programs[f.program]; ok && location == int32(f.program) {
		p.Uniforms[location] = v
		return
	}
	f.pushError(0x0502)
}

func (f *Fake) DrawArrays(mode uint32, first, count int32) {
	d := Draw{
		Framebuffer: f.framebuffer,
		Program:     f.program,
		Texture:     f.texture,
		Viewport:    f.viewport,
		Vertices:    append([]float32(nil), f.Buffers[f.arrayBuffer]...),
		Count:       count,
	}
	if p, ok := f.Programs[f.program]; ok {
		d.Rotation = p.Uniforms[int32(f.program)]
	}
	f.Draws = append(f.Draws, d)
}

var _ egl.Driver = (*Fake)(nil)
