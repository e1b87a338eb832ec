// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the settings shared by the depthflow tools.
//
// The file is JSON by default. A .yaml or .yml extension selects YAML, where
// keys are the lowercased field names.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"periph.io/x/periph/conn/physic"

	"github.com/maruel/go-depthflow/colorize"
	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/flow"
)

// Mode selects what is colorized for the depth stream.
type Mode string

// Valid values for Mode.
const (
	Raw   Mode = "raw"   // The depth itself.
	Delta Mode = "delta" // The temporal difference of differences.
)

// Config is the content of the configuration file.
type Config struct {
	Resolution depth.Resolution
	ColorOrder string // "BGRA" or "RGBA".
	Mode       Mode
	Colormap   string // "hue", "intensity" or "gray".
	NearMM     int    // Closest distance of the colormap range, in millimeters.
	FarMM      int    // Farthest distance of the colormap range, in millimeters.

	// Delta mode.
	DeltaColormap    string // Colormap of the combined delta, over [0, FarMM-NearMM].
	AnomalyThreshold int    // r+g+b sum under which a pixel is counted.
	FrozenPrevious   bool   // Compute every delta against the first frame.

	// Feature tracking.
	Track      bool
	TrackScale int    // Downsampling factor applied before tracking.
	Backend    string // flow backend name.
	Flow       flow.Params
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Resolution:       depth.Res320x240,
		ColorOrder:       depth.BGRA.String(),
		Mode:             Raw,
		Colormap:         "hue",
		NearMM:           500,
		FarMM:            4000,
		DeltaColormap:    "gray",
		AnomalyThreshold: colorize.DefaultThreshold,
		Track:            true,
		TrackScale:       2,
		Backend:          "native",
		Flow:             flow.DefaultParams(),
	}
}

// Near returns the closest distance of the colormap range.
func (c *Config) Near() physic.Distance {
	return physic.Distance(c.NearMM) * physic.MilliMetre
}

// Far returns the farthest distance of the colormap range.
func (c *Config) Far() physic.Distance {
	return physic.Distance(c.FarMM) * physic.MilliMetre
}

// Range returns the colormap range as depth samples.
func (c *Config) Range() (uint16, uint16) {
	return uint16(c.NearMM), uint16(c.FarMM)
}

// Order returns the parsed ColorOrder.
func (c *Config) Order() (depth.ChannelOrder, error) {
	switch strings.ToUpper(c.ColorOrder) {
	case "", "BGRA":
		return depth.BGRA, nil
	case "RGBA":
		return depth.RGBA, nil
	default:
		return 0, errors.Errorf("unknown color order %q", c.ColorOrder)
	}
}

// Mapper returns the configured colormap.
func (c *Config) Mapper() (colorize.Mapper, error) {
	near, far := c.Range()
	return colorize.Lookup(c.Colormap, near, far)
}

// DeltaMapper returns the colormap used for the combined delta in delta mode.
// Deltas are small values so the range starts at 0.
func (c *Config) DeltaMapper() (colorize.Mapper, error) {
	near, far := c.Range()
	return colorize.Lookup(c.DeltaColormap, 0, far-near)
}

// Validate returns an error if a value is out of range.
func (c *Config) Validate() error {
	if !c.Resolution.Valid() {
		return errors.Errorf("invalid resolution %s", c.Resolution)
	}
	if _, err := c.Order(); err != nil {
		return err
	}
	if c.Mode != Raw && c.Mode != Delta {
		return errors.Errorf("unknown mode %q", c.Mode)
	}
	if c.NearMM < 0 || c.FarMM <= c.NearMM || c.FarMM >= int(depth.Invalid) {
		return errors.Errorf("invalid range [%s, %s]", c.Near(), c.Far())
	}
	if _, err := c.Mapper(); err != nil {
		return err
	}
	if _, err := c.DeltaMapper(); err != nil {
		return errors.Wrap(err, "delta")
	}
	if c.AnomalyThreshold < 0 {
		return errors.Errorf("anomaly threshold %d must be positive", c.AnomalyThreshold)
	}
	if c.TrackScale < 1 {
		return errors.Errorf("track scale %d must be at least 1", c.TrackScale)
	}
	if _, err := flow.Lookup(c.Backend); err != nil {
		return err
	}
	return errors.Wrap(c.Flow.Validate(), "flow")
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := unmarshal(path, data, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return c, nil
}

// LoadOrCreate loads the file at path or creates it with the defaults if it
// doesn't exist.
//
// The file is rewritten in normalized form when it differs, so new fields
// show up with their default value.
func LoadOrCreate(path string) (*Config, error) {
	c := Default()
	src, err := os.ReadFile(path)
	if err == nil {
		if err := unmarshal(path, src, c); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	data, err := marshal(path, c)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(src, data) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DefaultPath returns ~/.config/depthflow/depthflow.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "depthflow", "depthflow.json"), nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func unmarshal(path string, data []byte, c *Config) error {
	var err error
	if isYAML(path) {
		err = yaml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	return errors.Wrapf(err, "%s is invalid", path)
}

func marshal(path string, c *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(c)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
