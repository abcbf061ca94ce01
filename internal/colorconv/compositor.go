// Package colorconv draws RGB textures into the Y and UV planes of an NV12
// surface on the GPU.
package colorconv

import (
	"fmt"
	"math"

	"kmscap/internal/egl"
	"kmscap/internal/logging"
	"kmscap/internal/types"
)

const (
	numTargets      = 2
	floatsPerQuad   = 24
	vertexStride    = 4 * 4
	rotationEpsilon = 0.001
)

var log = logging.L("colorconv")

// Compositor owns the Y and UV programs, one framebuffer per destination
// plane and a vertex buffer rewritten on every draw. It relies on the
// blending state set up by egl.Load.
type Compositor struct {
	drv          egl.Driver
	targets      [numTargets]uint32
	programs     [numTargets]*program
	framebuffers [numTargets]uint32
	vertexArray  uint32
	vertexBuffer uint32
}

// New builds the pipeline for an NV12 destination: destinations[0] is the
// full-size luma texture, destinations[1] the half-size interleaved chroma.
func New(drv egl.Driver, destinations []uint32) (*Compositor, error) {
	if len(destinations) != numTargets {
		return nil, fmt.Errorf("colorconv: expected %d destination textures for NV12, got %d", numTargets, len(destinations))
	}

	c := &Compositor{drv: drv}
	copy(c.targets[:], destinations)

	var err error
	if c.programs[0], err = newProgram(drv, vertexShaderY, fragmentShaderY); err != nil {
		c.Close()
		return nil, fmt.Errorf("colorconv: load Y shader: %w", err)
	}
	if c.programs[1], err = newProgram(drv, vertexShaderUV, fragmentShaderUV); err != nil {
		c.Close()
		return nil, fmt.Errorf("colorconv: load UV shader: %w", err)
	}
	if err := c.createFramebuffers(); err != nil {
		c.Close()
		return nil, err
	}
	c.createVertices()

	return c, nil
}

func (c *Compositor) createFramebuffers() error {
	defer c.drv.BindFramebuffer(egl.GL_FRAMEBUFFER, 0)

	planes := [numTargets]string{"Y", "UV"}
	for i := range c.framebuffers {
		c.framebuffers[i] = c.drv.GenFramebuffer()
		c.drv.BindFramebuffer(egl.GL_FRAMEBUFFER, c.framebuffers[i])
		c.drv.FramebufferTexture2D(egl.GL_FRAMEBUFFER, egl.GL_COLOR_ATTACHMENT0, egl.GL_TEXTURE_2D, c.targets[i], 0)
		c.drv.DrawBuffers(egl.GL_COLOR_ATTACHMENT0)
		if status := c.drv.CheckFramebufferStatus(egl.GL_FRAMEBUFFER); status != egl.GL_FRAMEBUFFER_COMPLETE {
			return fmt.Errorf("colorconv: framebuffer for %s incomplete: 0x%x", planes[i], status)
		}
	}
	return nil
}

func (c *Compositor) createVertices() {
	c.vertexArray = c.drv.GenVertexArray()
	c.drv.BindVertexArray(c.vertexArray)

	c.vertexBuffer = c.drv.GenBuffer()
	c.drv.BindBuffer(egl.GL_ARRAY_BUFFER, c.vertexBuffer)
	c.drv.BufferData(egl.GL_ARRAY_BUFFER, floatsPerQuad*4, egl.GL_STREAM_DRAW)

	c.drv.EnableVertexAttribArray(attribPos)
	c.drv.VertexAttribPointer(attribPos, 2, egl.GL_FLOAT, false, vertexStride, 0)
	c.drv.EnableVertexAttribArray(attribTexcoords)
	c.drv.VertexAttribPointer(attribTexcoords, 2, egl.GL_FLOAT, false, vertexStride, 2*4)

	c.drv.BindVertexArray(0)
}

// Draw samples the srcPos/srcSize rectangle of texture and places it at
// dstPos/dstSize in the destination planes, rotated around Z by rotation
// radians. Both planes are drawn. Texture sizes are queried on every call
// rather than cached, so a resized source is picked up immediately.
func (c *Compositor) Draw(texture uint32, dstPos, dstSize, srcPos, srcSize types.Vec2i, rotation float32) {
	drv := c.drv

	drv.BindTexture(egl.GL_TEXTURE_2D, c.targets[0])
	destTexSize := types.Vec2i{
		X: int(drv.TexLevelParameteri(egl.GL_TEXTURE_2D, 0, egl.GL_TEXTURE_WIDTH)),
		Y: int(drv.TexLevelParameteri(egl.GL_TEXTURE_2D, 0, egl.GL_TEXTURE_HEIGHT)),
	}

	drv.BindTexture(egl.GL_TEXTURE_2D, texture)
	srcTexSize := types.Vec2i{
		X: int(drv.TexLevelParameteri(egl.GL_TEXTURE_2D, 0, egl.GL_TEXTURE_WIDTH)),
		Y: int(drv.TexLevelParameteri(egl.GL_TEXTURE_2D, 0, egl.GL_TEXTURE_HEIGHT)),
	}

	// A quarter-turned source is stored with its axes swapped relative to
	// the logical capture rectangle.
	if isQuarterTurn(rotation) {
		srcTexSize.X, srcTexSize.Y = srcTexSize.Y, srcTexSize.X
	}

	vertices := quadVertices(destTexSize, srcTexSize, dstPos, dstSize, srcPos, srcSize)

	drv.BindVertexArray(c.vertexArray)
	drv.Viewport(0, 0, int32(destTexSize.X), int32(destTexSize.Y))
	drv.BindTexture(egl.GL_TEXTURE_2D, texture)
	drv.BindBuffer(egl.GL_ARRAY_BUFFER, c.vertexBuffer)
	drv.BufferSubData(egl.GL_ARRAY_BUFFER, 0, vertices[:])

	for i, p := range c.programs {
		drv.BindFramebuffer(egl.GL_FRAMEBUFFER, c.framebuffers[i])
		drv.UseProgram(p.id)
		drv.Uniform1f(p.rotation, rotation)
		drv.DrawArrays(egl.GL_TRIANGLES, 0, 6)
	}

	drv.BindVertexArray(0)
	drv.UseProgram(0)
	drv.BindTexture(egl.GL_TEXTURE_2D, 0)
	drv.BindFramebuffer(egl.GL_FRAMEBUFFER, 0)
}

func isQuarterTurn(rotation float32) bool {
	r := float64(rotation)
	for _, q := range [...]float64{0.5 * math.Pi, 1.5 * math.Pi, -0.5 * math.Pi, -1.5 * math.Pi} {
		if math.Abs(q-r) <= rotationEpsilon {
			return true
		}
	}
	return false
}

// quadVertices builds two triangles as interleaved (x, y, u, v). Positions
// are normalized against the destination texture into clip space; texture
// coordinates against the source texture. Zero sizes divide by 1.
func quadVertices(destTexSize, srcTexSize, dstPos, dstSize, srcPos, srcSize types.Vec2i) [floatsPerQuad]float32 {
	norm := func(v, size int) float32 {
		if size == 0 {
			return float32(v)
		}
		return float32(v) / float32(size)
	}

	posX := norm(dstPos.X, destTexSize.X) * 2
	posY := norm(dstPos.Y, destTexSize.Y) * 2
	sizeX := norm(dstSize.X, destTexSize.X) * 2
	sizeY := norm(dstSize.Y, destTexSize.Y) * 2

	texX := norm(srcPos.X, srcTexSize.X)
	texY := norm(srcPos.Y, srcTexSize.Y)
	texW := norm(srcSize.X, srcTexSize.X)
	texH := norm(srcSize.Y, srcTexSize.Y)

	x0, y0 := -1+posX, -1+posY
	x1, y1 := x0+sizeX, y0+sizeY
	u0, v0 := texX, texY
	u1, v1 := texX+texW, texY+texH

	return [floatsPerQuad]float32{
		x0, y1, u0, v1,
		x0, y0, u0, v0,
		x1, y0, u1, v0,

		x0, y1, u0, v1,
		x1, y0, u1, v0,
		x1, y1, u1, v1,
	}
}

// Close releases the programs, framebuffers and vertex objects. Safe to
// call repeatedly.
func (c *Compositor) Close() {
	if c == nil || c.drv == nil {
		return
	}
	if c.vertexBuffer != 0 {
		c.drv.DeleteBuffer(c.vertexBuffer)
		c.vertexBuffer = 0
	}
	if c.vertexArray != 0 {
		c.drv.DeleteVertexArray(c.vertexArray)
		c.vertexArray = 0
	}
	for i, fb := range c.framebuffers {
		if fb != 0 {
			c.drv.DeleteFramebuffer(fb)
			c.framebuffers[i] = 0
		}
	}
	for i, p := range c.programs {
		if p != nil {
			c.drv.DeleteProgram(p.id)
			c.programs[i] = nil
		}
	}
	log.Debug("compositor released")
	c.drv = nil
}
