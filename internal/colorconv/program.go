package colorconv

import (
	"fmt"

	"kmscap/internal/egl"
)

// Attribute locations shared by both programs.
const (
	attribPos       = 0
	attribTexcoords = 1
)

type program struct {
	id       uint32
	rotation int32
}

func compileShader(drv egl.Driver, typ uint32, source string) (uint32, error) {
	shader := drv.CreateShader(typ)
	if shader == 0 {
		return 0, fmt.Errorf("glCreateShader failed")
	}
	drv.ShaderSource(shader, source)
	drv.CompileShader(shader)
	if drv.ShaderParameter(shader, egl.GL_COMPILE_STATUS) == 0 {
		infoLog := drv.ShaderInfoLog(shader)
		drv.DeleteShader(shader)
		return 0, fmt.Errorf("compile shader: %s", infoLog)
	}
	return shader, nil
}

// newProgram compiles and links a program. Attribute locations are bound
// before linking so both programs share one vertex layout.
func newProgram(drv egl.Driver, vertexSource, fragmentSource string) (*program, error) {
	vs, err := compileShader(drv, egl.GL_VERTEX_SHADER, vertexSource)
	if err != nil {
		return nil, fmt.Errorf("vertex: %w", err)
	}
	defer drv.DeleteShader(vs)

	fs, err := compileShader(drv, egl.GL_FRAGMENT_SHADER, fragmentSource)
	if err != nil {
		return nil, fmt.Errorf("fragment: %w", err)
	}
	defer drv.DeleteShader(fs)

	id := drv.CreateProgram()
	if id == 0 {
		return nil, fmt.Errorf("glCreateProgram failed")
	}
	drv.AttachShader(id, vs)
	drv.AttachShader(id, fs)
	drv.BindAttribLocation(id, attribPos, "pos")
	drv.BindAttribLocation(id, attribTexcoords, "texcoords")
	drv.LinkProgram(id)
	if drv.ProgramParameter(id, egl.GL_LINK_STATUS) == 0 {
		infoLog := drv.ProgramInfoLog(id)
		drv.DeleteProgram(id)
		return nil, fmt.Errorf("link program: %s", infoLog)
	}

	return &program{
		id:       id,
		rotation: drv.UniformLocation(id, "rotation"),
	}, nil
}
