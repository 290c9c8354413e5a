package config

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/photoseq/internal/effects"
	"github.com/ivlev/photoseq/internal/model"
)

const (
	DefaultHoldSeconds       = 2.0
	DefaultTransitionSeconds = 0.5
	DefaultWidth             = 1920
	DefaultHeight            = 1080
	DefaultFPS               = 30
	DefaultMinPhotos         = 10
	DefaultMaxPhotos         = 12
	DefaultTransition        = "fade"
	DefaultBackground        = "#000000"
	DefaultEncoder           = "auto"
)

// Options are the caller-tunable knobs of one compile. Every field is independently
// overridable; zero-valued files leave defaults in place.
type Options struct {
	HoldSeconds       float64          `yaml:"hold_seconds" toml:"hold_seconds"`
	TransitionSeconds float64          `yaml:"transition_seconds" toml:"transition_seconds"`
	Resolution        model.Resolution `yaml:"resolution" toml:"resolution"`
	FPS               int              `yaml:"fps" toml:"fps"`
	DestinationPath   string           `yaml:"destination" toml:"destination"`

	MinPhotos  int    `yaml:"min_photos" toml:"min_photos"`
	MaxPhotos  int    `yaml:"max_photos" toml:"max_photos"`
	Transition string `yaml:"transition" toml:"transition"` // fade, wipeleft, slideup, none
	Background string `yaml:"background" toml:"background"` // Letterbox colour, #RRGGBB

	Encoder   string `yaml:"encoder" toml:"encoder"` // auto, ffmpeg, mjpeg
	Quality   int    `yaml:"quality" toml:"quality"` // 0 = pick per encoder
	Workers   int    `yaml:"workers" toml:"workers"` // Probe concurrency, 0 = NumCPU
	ShowStats bool   `yaml:"show_stats" toml:"show_stats"`
}

// DefaultOptions returns 2s holds, 0.5s cross-fades, 1920x1080 at 30 fps and the
// 10..12 photo bounds.
func DefaultOptions() Options {
	return Options{
		HoldSeconds:       DefaultHoldSeconds,
		TransitionSeconds: DefaultTransitionSeconds,
		Resolution:        model.Resolution{Width: DefaultWidth, Height: DefaultHeight},
		FPS:               DefaultFPS,
		MinPhotos:         DefaultMinPhotos,
		MaxPhotos:         DefaultMaxPhotos,
		Transition:        DefaultTransition,
		Background:        DefaultBackground,
		Encoder:           DefaultEncoder,
	}
}

// LoadFile overlays the options file at path onto base. The format follows the
// extension: .yaml/.yml or .toml.
func LoadFile(path string, base Options) (Options, error) {
	opts := base
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return base, err
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return base, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, &opts); err != nil {
			return base, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return base, fmt.Errorf("unsupported options file %q (want .yaml, .yml or .toml)", path)
	}
	return opts, nil
}

// Preset maps an aspect preset name to an output resolution.
func Preset(name string) (model.Resolution, bool) {
	switch name {
	case "16:9":
		return model.Resolution{Width: 1920, Height: 1080}, true
	case "9:16":
		return model.Resolution{Width: 1080, Height: 1920}, true
	case "4:5":
		return model.Resolution{Width: 1080, Height: 1350}, true
	case "720p":
		return model.Resolution{Width: 1280, Height: 720}, true
	}
	return model.Resolution{}, false
}

// Validate checks the options for values no timeline can be built from.
func (o Options) Validate() error {
	var problem string
	switch {
	case o.FPS <= 0:
		problem = fmt.Sprintf("fps must be positive, got %d", o.FPS)
	case o.HoldSeconds <= 0:
		problem = fmt.Sprintf("hold seconds must be positive, got %g", o.HoldSeconds)
	case math.Round(o.HoldSeconds*float64(o.FPS)) < 1:
		problem = fmt.Sprintf("hold of %gs is shorter than one frame at %d fps", o.HoldSeconds, o.FPS)
	case o.TransitionSeconds < 0:
		problem = fmt.Sprintf("transition seconds must not be negative, got %g", o.TransitionSeconds)
	case o.Resolution.Width <= 0 || o.Resolution.Height <= 0:
		problem = fmt.Sprintf("resolution must be positive, got %s", o.Resolution)
	case o.Resolution.Width%2 != 0 || o.Resolution.Height%2 != 0:
		// yuv420p needs even dimensions
		problem = fmt.Sprintf("resolution must be even, got %s", o.Resolution)
	case o.MinPhotos < 1 || o.MaxPhotos < o.MinPhotos:
		problem = fmt.Sprintf("photo bounds must satisfy 1 <= min <= max, got %d..%d", o.MinPhotos, o.MaxPhotos)
	case !effects.Known(o.Transition):
		problem = fmt.Sprintf("unknown transition %q", o.Transition)
	case o.DestinationPath == "":
		problem = "destination path is empty"
	}
	if problem == "" {
		if _, err := ParseColor(o.Background); err != nil {
			problem = err.Error()
		}
	}
	if problem != "" {
		return &model.ValidationError{Kind: model.ErrInvalidOptions, Index: -1, Err: fmt.Errorf("%s", problem)}
	}
	return nil
}

// ParseColor parses #RGB or #RRGGBB. An empty string is black.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return color.RGBA{A: 0xff}, nil
	}
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("bad colour %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("bad colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
