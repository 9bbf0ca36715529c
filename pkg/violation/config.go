package violation

import (
	"fmt"
	"strings"
	"time"
)

// Preset names accepted by ConfigByName.
const (
	PresetDefault = "default"
	PresetLegacy  = "legacy"
)

// Config configures debouncing, duration gating and cooldown.
type Config struct {
	// DebounceFrames is the ring buffer size N. A label must fill the whole
	// buffer before it can be tracked.
	DebounceFrames int

	// RequiredDuration is how long a tracked label must persist before an
	// event is emitted.
	RequiredDuration time.Duration

	// Cooldown is the refractory period after an emitted event.
	Cooldown time.Duration
}

// DefaultConfig returns the production preset: 5 frames, 2s duration, 2s
// cooldown.
func DefaultConfig() Config {
	return Config{
		DebounceFrames:   5,
		RequiredDuration: 2 * time.Second,
		Cooldown:         2 * time.Second,
	}
}

// LegacyConfig returns the duration-less preset: an event is emitted on the
// frame after the buffer saturates, with no cooldown. Opt-in only.
func LegacyConfig() Config {
	return Config{
		DebounceFrames:   5,
		RequiredDuration: 0,
		Cooldown:         0,
	}
}

// ConfigByName returns a preset by name.
func ConfigByName(name string) (Config, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetDefault:
		return DefaultConfig(), nil
	case PresetLegacy:
		return LegacyConfig(), nil
	default:
		return Config{}, fmt.Errorf("violation: unknown preset %q", name)
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DebounceFrames < 1 {
		return fmt.Errorf("violation: debounce frames must be >= 1, got %d", c.DebounceFrames)
	}
	if c.RequiredDuration < 0 {
		return fmt.Errorf("violation: required duration must be >= 0, got %v", c.RequiredDuration)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("violation: cooldown must be >= 0, got %v", c.Cooldown)
	}
	return nil
}
