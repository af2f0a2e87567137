package config

import (
	"os"
	"time"
)

const (
	DefaultDeviceDir         = "/dev"
	DefaultDMControl         = "/dev/mapper/control"
	DefaultLvmetadSocket     = "/run/lvm/lvmetad.socket"
	DefaultExtentSize        = 8192
	DefaultMetadataAreaSize  = 1 << 20
	DefaultMetadataCopies    = 1
	DefaultActivationTimeout = 30 * time.Second
	DefaultLogLevel          = "info"
)

// SetDefaults fills every unset field.
func SetDefaults(cfg *Config) {
	if cfg.DeviceDir == "" {
		cfg.DeviceDir = DefaultDeviceDir
	}

	if cfg.DMControl == "" {
		cfg.DMControl = DefaultDMControl
	}

	if cfg.LvmetadSocket == "" {
		cfg.LvmetadSocket = DefaultLvmetadSocket
	}

	if cfg.ExtentSize == 0 {
		cfg.ExtentSize = DefaultExtentSize
	}

	if cfg.MetadataAreaSize == 0 {
		cfg.MetadataAreaSize = DefaultMetadataAreaSize
	}

	if cfg.MetadataCopies == 0 {
		cfg.MetadataCopies = DefaultMetadataCopies
	}

	if cfg.ActivationTimeout == 0 {
		cfg.ActivationTimeout = DefaultActivationTimeout
	}

	if cfg.Hostname == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Hostname = host
		} else {
			cfg.Hostname = "localhost"
		}
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
}
