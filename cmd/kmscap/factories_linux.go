//go:build linux

package main

import (
	"fmt"

	"kmscap/internal/capture"
	"kmscap/internal/config"
	"kmscap/internal/egl"
	"kmscap/internal/kms"
	"kmscap/internal/types"
	"kmscap/internal/vaapi"
	"kmscap/internal/x11"
	"kmscap/internal/xwin"
)

func captureDeps(cfg *config.Config) capture.Deps {
	return capture.Deps{
		OpenDisplay:      openDisplay,
		OpenWindowSystem: openWindowSystem,
		LoadGraphics:     loadGraphics,
		ConnectKMS: func(cardPath string) (capture.KMSClient, error) {
			c, err := kms.Connect(cardPath, cfg.KMSHelper, cfg.UsePkexec)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		OpenHWDevice: openHWDevice,
	}
}

func openDisplay(name string) (capture.NativeDisplay, error) {
	d, err := x11.Open(name)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func openWindowSystem(name string) (capture.WindowSystem, error) {
	c, err := xwin.Open(name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func loadGraphics(display capture.NativeDisplay) (capture.Graphics, error) {
	c, err := egl.Load(display)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func openHWDevice(cardPath string, width, height int) (types.HWDevice, error) {
	d, err := vaapi.OpenDevice(cardPath, width, height)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newEncoder(enc capture.EncoderParams, codec string, fps int) (packetEncoder, error) {
	dev, ok := enc.Device.(*vaapi.Device)
	if !ok {
		return nil, fmt.Errorf("encoder needs a vaapi device, got %T", enc.Device)
	}
	e, err := vaapi.NewEncoder(dev, codec, fps)
	if err != nil {
		return nil, err
	}
	return e, nil
}
