package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds everything the recorder needs, from file, env and flags.
type Config struct {
	CardPath  string `mapstructure:"card_path"`
	Display   string `mapstructure:"display"`
	Monitor   string `mapstructure:"monitor"`
	FPS       int    `mapstructure:"fps"`
	Codec     string `mapstructure:"codec"`
	Output    string `mapstructure:"output"`
	KMSHelper string `mapstructure:"kms_helper"`
	UsePkexec bool   `mapstructure:"use_pkexec"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	Stats     bool   `mapstructure:"stats"`
}

func Default() *Config {
	return &Config{
		CardPath:  "/dev/dri/card0",
		Display:   os.Getenv("DISPLAY"),
		Monitor:   "screen",
		FPS:       60,
		Codec:     "h264",
		Output:    "capture.h264",
		KMSHelper: "gsr-kms-server",
		UsePkexec: os.Geteuid() != 0,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the config file (explicit path, else kmscap.yaml in the config
// dir or the working dir), then KMSCAP_* env vars, then any flags set on fs.
func Load(cfgFile string, fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	v := viper.New()

	v.SetDefault("card_path", cfg.CardPath)
	v.SetDefault("display", cfg.Display)
	v.SetDefault("monitor", cfg.Monitor)
	v.SetDefault("fps", cfg.FPS)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("output", cfg.Output)
	v.SetDefault("kms_helper", cfg.KMSHelper)
	v.SetDefault("use_pkexec", cfg.UsePkexec)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("stats", cfg.Stats)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("kmscap")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("KMSCAP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if fs != nil {
		for key, name := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flagKeys maps config keys to CLI flag names.
var flagKeys = map[string]string{
	"card_path":  "card",
	"display":    "display",
	"monitor":    "monitor",
	"fps":        "fps",
	"codec":      "codec",
	"output":     "output",
	"kms_helper": "kms-helper",
	"use_pkexec": "pkexec",
	"log_level":  "log-level",
	"log_format": "log-format",
	"stats":      "stats",
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "kmscap")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "kmscap")
}
