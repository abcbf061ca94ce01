package kms

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmscap/internal/monitor"
	"kmscap/internal/types"
)

var screen = types.Vec2i{X: 3840, Y: 1080}

func TestResolveScreen(t *testing.T) {
	r := Resolver{
		Target:     monitor.Target{Name: monitor.ScreenName, ScreenCapture: true, Rotation: monitor.Rotate0},
		ScreenSize: screen,
	}

	t.Run("prefers combined plane regardless of size", func(t *testing.T) {
		resp := &Response{Planes: []Plane{
			{ConnectorID: 1, Width: 3840, Height: 2160},
			{ConnectorID: 2, Width: 800, Height: 600, IsCombined: true},
			{ConnectorID: 3, Width: 1920, Height: 1080},
		}}

		sel, err := r.Resolve(resp)

		require.NoError(t, err)
		assert.Same(t, &resp.Planes[1], sel.Plane)
		assert.True(t, sel.IsCombined)
	})

	t.Run("falls back to largest", func(t *testing.T) {
		resp := &Response{Planes: []Plane{
			{ConnectorID: 1, Width: 1920, Height: 1080},
			{ConnectorID: 2, Width: 2560, Height: 1440},
			{ConnectorID: 3, Width: 1280, Height: 720},
		}}

		sel, err := r.Resolve(resp)

		require.NoError(t, err)
		assert.Equal(t, uint32(2), sel.Plane.ConnectorID)
		assert.False(t, sel.IsCombined)
	})

	t.Run("screen sized plane counts as combined", func(t *testing.T) {
		resp := &Response{Planes: []Plane{{Width: 3840, Height: 1080}}}

		sel, err := r.Resolve(resp)

		require.NoError(t, err)
		assert.True(t, sel.IsCombined)
	})

	t.Run("no planes", func(t *testing.T) {
		_, err := r.Resolve(&Response{})
		assert.ErrorIs(t, err, ErrNoPlanes)

		_, err = r.Resolve(nil)
		assert.ErrorIs(t, err, ErrNoPlanes)
	})
}

func TestResolveScreenRotation(t *testing.T) {
	resp := &Response{Planes: []Plane{{Width: 1080, Height: 1920}}}

	single := monitor.ResolveTarget([]monitor.Output{{Name: "eDP-1", Rotation: monitor.Rotate270}}, monitor.ScreenName)
	sel, err := Resolver{Target: single, ScreenSize: types.Vec2i{X: 1920, Y: 1080}}.Resolve(resp)
	require.NoError(t, err)
	assert.True(t, sel.RequiresRotation)
	assert.InDelta(t, 1.5*math.Pi, float64(sel.Rotation), 1e-6)

	multi := monitor.ResolveTarget([]monitor.Output{
		{Name: "DP-1", Rotation: monitor.Rotate0},
		{Name: "eDP-1", Rotation: monitor.Rotate270},
	}, monitor.ScreenName)
	sel, err = Resolver{Target: multi, ScreenSize: types.Vec2i{X: 3000, Y: 1920}}.Resolve(resp)
	require.NoError(t, err)
	assert.False(t, sel.RequiresRotation)
	assert.Zero(t, sel.Rotation)
}

func TestResolveNamed(t *testing.T) {
	outputs := []monitor.Output{
		{Name: "DP-1", Rotation: monitor.Rotate0, ConnectorIDs: []uint32{90}},
		{Name: "HDMI-A-1", Rotation: monitor.Rotate90, ConnectorIDs: []uint32{101, 102}},
	}

	t.Run("first connector in list order wins", func(t *testing.T) {
		target := monitor.ResolveTarget(outputs, "HDMI-A-1")
		resp := &Response{Planes: []Plane{
			{ConnectorID: 102, Width: 1080, Height: 1920},
			{ConnectorID: 101, Width: 1080, Height: 1920},
			{ConnectorID: 0, Width: 3000, Height: 1920, IsCombined: true},
		}}

		sel, err := Resolver{Target: target, ScreenSize: types.Vec2i{X: 3000, Y: 1920}}.Resolve(resp)

		require.NoError(t, err)
		assert.Same(t, &resp.Planes[1], sel.Plane)
		assert.True(t, sel.RequiresRotation, "connector match uses the output's own rotation")
		assert.InDelta(t, 0.5*math.Pi, float64(sel.Rotation), 1e-6)
		assert.False(t, sel.IsCombined)
	})

	t.Run("unmatched connectors fall back to combined", func(t *testing.T) {
		target := monitor.ResolveTarget(outputs, "HDMI-A-1")
		resp := &Response{Planes: []Plane{
			{ConnectorID: 7, Width: 1920, Height: 1080},
			{ConnectorID: 8, Width: 3000, Height: 1920, IsCombined: true},
		}}

		sel, err := Resolver{Target: target, ScreenSize: types.Vec2i{X: 3000, Y: 1920}}.Resolve(resp)

		require.NoError(t, err)
		assert.Equal(t, uint32(8), sel.Plane.ConnectorID)
		assert.False(t, sel.RequiresRotation)
		assert.True(t, sel.IsCombined)
	})

	t.Run("unmatched connectors fall back to largest", func(t *testing.T) {
		target := monitor.ResolveTarget(outputs, "DP-1")
		resp := &Response{Planes: []Plane{
			{ConnectorID: 7, Width: 640, Height: 480},
			{ConnectorID: 8, Width: 1280, Height: 720},
		}}

		sel, err := Resolver{Target: target, ScreenSize: screen}.Resolve(resp)

		require.NoError(t, err)
		assert.Equal(t, uint32(8), sel.Plane.ConnectorID)
	})
}
