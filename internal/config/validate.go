package config

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	minFPS = 1
	maxFPS = 240
)

var validCodecs = map[string]bool{
	"h264": true,
	"hevc": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config and returns every problem found. Out-of-range
// fps is clamped rather than rejected.
func (c *Config) Validate() []error {
	var errs []error

	if c.CardPath == "" {
		errs = append(errs, fmt.Errorf("card_path must be set"))
	} else if !strings.HasPrefix(c.CardPath, "/dev/dri/") {
		errs = append(errs, fmt.Errorf("card_path %q is not a DRM device node", c.CardPath))
	}

	if strings.TrimSpace(c.Monitor) == "" {
		errs = append(errs, fmt.Errorf("monitor must be set (use %q for the whole screen)", "screen"))
	}

	if c.FPS < minFPS {
		slog.Warn("fps below minimum, clamping", "fps", c.FPS, "min", minFPS)
		c.FPS = minFPS
	} else if c.FPS > maxFPS {
		slog.Warn("fps above maximum, clamping", "fps", c.FPS, "max", maxFPS)
		c.FPS = maxFPS
	}

	if !validCodecs[c.Codec] {
		errs = append(errs, fmt.Errorf("codec must be h264 or hevc, got %q", c.Codec))
	}

	if c.Output == "" {
		errs = append(errs, fmt.Errorf("output must be set"))
	}

	if c.KMSHelper == "" {
		errs = append(errs, fmt.Errorf("kms_helper must be set"))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}

	return errs
}
