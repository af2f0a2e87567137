// Package config holds the settings shared by the lvmeta tools, read from
// a YAML file.
package config

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DeviceDir     string `yaml:"device_dir"`
	DMControl     string `yaml:"dm_control"`
	LvmetadSocket string `yaml:"lvmetad_socket"`

	// ExtentSize is in sectors, MetadataAreaSize in bytes.
	ExtentSize       uint64 `yaml:"extent_size"`
	MetadataAreaSize uint64 `yaml:"metadata_area_size"`
	MetadataCopies   int    `yaml:"metadata_copies"`

	ActivationTimeout time.Duration `yaml:"activation_timeout"`
	Hostname          string        `yaml:"hostname"`
	LogLevel          string        `yaml:"log_level"`
}

// Load parses a YAML document and applies defaults.
func Load(bs []byte) (Config, error) {
	var c Config

	if err := yaml.Unmarshal(bs, &c); err != nil {
		return c, errors.Wrap(err, "parsing config")
	}

	SetDefaults(&c)

	if _, err := c.Level(); err != nil {
		return c, err
	}

	return c, nil
}

// LoadFile reads and parses the config at path.
func LoadFile(path string) (Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	c, err := Load(b)
	if err != nil {
		return c, errors.Wrapf(err, "%s", path)
	}

	return c, nil
}

// Level returns the logrus level named by LogLevel.
func (c Config) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, errors.Wrapf(err, "log_level")
	}

	return lvl, nil
}
