//go:build !linux

package main

import (
	"errors"

	"kmscap/internal/capture"
	"kmscap/internal/config"
	"kmscap/internal/types"
)

var errUnsupported = errors.New("kms capture is only supported on linux")

func captureDeps(cfg *config.Config) capture.Deps {
	return capture.Deps{
		OpenDisplay:      func(string) (capture.NativeDisplay, error) { return nil, errUnsupported },
		OpenWindowSystem: func(string) (capture.WindowSystem, error) { return nil, errUnsupported },
		LoadGraphics:     func(capture.NativeDisplay) (capture.Graphics, error) { return nil, errUnsupported },
		ConnectKMS:       func(string) (capture.KMSClient, error) { return nil, errUnsupported },
		OpenHWDevice:     func(string, int, int) (types.HWDevice, error) { return nil, errUnsupported },
	}
}

func newEncoder(capture.EncoderParams, string, int) (packetEncoder, error) {
	return nil, errUnsupported
}
