// Package config loads go-proctor settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/geometry"
	"github.com/teslashibe/go-proctor/pkg/violation"
)

// Environment variable names.
const (
	EnvAddr             = "PROCTOR_ADDR"
	EnvModelPath        = "PROCTOR_MODEL_PATH"
	EnvDBPath           = "PROCTOR_DB_PATH"
	EnvFrameWidth       = "PROCTOR_FRAME_WIDTH"
	EnvFrameHeight      = "PROCTOR_FRAME_HEIGHT"
	EnvPitchDownDeg     = "PROCTOR_PITCH_DOWN_DEG"
	EnvGazeH            = "PROCTOR_GAZE_H"
	EnvGazeV            = "PROCTOR_GAZE_V"
	EnvDebounceFrames   = "PROCTOR_DEBOUNCE_FRAMES"
	EnvRequiredDuration = "PROCTOR_REQUIRED_DURATION"
	EnvCooldown         = "PROCTOR_COOLDOWN"
	EnvPreset           = "PROCTOR_PRESET"
	EnvUplinkURL        = "PROCTOR_UPLINK_URL"
	EnvHeartbeat        = "PROCTOR_HEARTBEAT"
	EnvStaticDir        = "PROCTOR_STATIC_DIR"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFile          = "LOG_FILE"
)

// Config is the full runtime configuration.
type Config struct {
	Addr      string `validate:"required"`
	ModelPath string // empty selects the embedded model
	DBPath    string `validate:"required"`
	StaticDir string

	FrameWidth  int `validate:"gt=0,lte=8192"`
	FrameHeight int `validate:"gt=0,lte=8192"`

	PitchDownDeg float64 `validate:"gt=0,lt=90"`
	GazeH        float64 `validate:"gt=0,lt=1"`
	GazeV        float64 `validate:"gt=0,lt=1"`

	Preset           string        `validate:"oneof=default legacy"`
	DebounceFrames   int           `validate:"gte=1,lte=300"`
	RequiredDuration time.Duration `validate:"gte=0"`
	Cooldown         time.Duration `validate:"gte=0"`

	UplinkURL string        `validate:"omitempty,url"`
	Heartbeat time.Duration `validate:"gt=0"`

	LogLevel string `validate:"oneof=debug info warn warning error"`
	LogFile  string
}

// Default returns the built-in configuration.
func Default() Config {
	geo := geometry.DefaultConfig()
	th := behavior.DefaultThresholds()
	vc := violation.DefaultConfig()
	return Config{
		Addr:             ":8080",
		DBPath:           "proctor.db",
		FrameWidth:       geo.FrameWidth,
		FrameHeight:      geo.FrameHeight,
		PitchDownDeg:     th.PitchDownDeg,
		GazeH:            th.HorizontalGaze,
		GazeV:            th.VerticalGazeDown,
		Preset:           violation.PresetDefault,
		DebounceFrames:   vc.DebounceFrames,
		RequiredDuration: vc.RequiredDuration,
		Cooldown:         vc.Cooldown,
		Heartbeat:        5 * time.Second,
		LogLevel:         "info",
	}
}

// Load reads an optional .env file from the working directory and then the
// environment on top of Default. The result is validated.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	// A preset replaces the timing defaults; explicit variables still win.
	if name, ok := lookup(EnvPreset); ok && name != "" {
		cfg.Preset = strings.ToLower(strings.TrimSpace(name))
		if vc, err := violation.ConfigByName(name); err == nil {
			cfg.DebounceFrames = vc.DebounceFrames
			cfg.RequiredDuration = vc.RequiredDuration
			cfg.Cooldown = vc.Cooldown
		}
	}

	p := parser{lookup: lookup}
	p.str(EnvAddr, &cfg.Addr)
	p.str(EnvModelPath, &cfg.ModelPath)
	p.str(EnvDBPath, &cfg.DBPath)
	p.str(EnvStaticDir, &cfg.StaticDir)
	p.int(EnvFrameWidth, &cfg.FrameWidth)
	p.int(EnvFrameHeight, &cfg.FrameHeight)
	p.float(EnvPitchDownDeg, &cfg.PitchDownDeg)
	p.float(EnvGazeH, &cfg.GazeH)
	p.float(EnvGazeV, &cfg.GazeV)
	p.int(EnvDebounceFrames, &cfg.DebounceFrames)
	p.duration(EnvRequiredDuration, &cfg.RequiredDuration)
	p.duration(EnvCooldown, &cfg.Cooldown)
	p.str(EnvUplinkURL, &cfg.UplinkURL)
	p.duration(EnvHeartbeat, &cfg.Heartbeat)
	p.str(EnvLogLevel, &cfg.LogLevel)
	p.str(EnvLogFile, &cfg.LogFile)
	if p.err != nil {
		return Config{}, p.err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Geometry returns the frame geometry.
func (c Config) Geometry() geometry.Config {
	return geometry.Config{FrameWidth: c.FrameWidth, FrameHeight: c.FrameHeight}
}

// Thresholds returns the rule thresholds.
func (c Config) Thresholds() behavior.Thresholds {
	return behavior.Thresholds{
		PitchDownDeg:     c.PitchDownDeg,
		HorizontalGaze:   c.GazeH,
		VerticalGazeDown: c.GazeV,
	}
}

// Violation returns the state machine timings.
func (c Config) Violation() violation.Config {
	return violation.Config{
		DebounceFrames:   c.DebounceFrames,
		RequiredDuration: c.RequiredDuration,
		Cooldown:         c.Cooldown,
	}
}

// parser records the first malformed variable.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) get(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.lookup(key)
	return v, ok && v != ""
}

func (p *parser) fail(key, val string, err error) {
	p.err = fmt.Errorf("config: %s=%q: %w", key, val, err)
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) int(key string, dst *int) {
	if v, ok := p.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = f
	}
}

// duration accepts Go durations ("1500ms") or plain seconds ("2", "0.5").
func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.get(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
			return
		}
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, errors.New("not a duration"))
			return
		}
		*dst = time.Duration(secs * float64(time.Second))
	}
}
