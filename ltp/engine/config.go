// Package engine implements the supervisor of spec.md §4.8: it owns every
// session's lifecycle, dispatches inbound segments to the right session,
// multiplexes egress across all of them under a shared rate limit, and
// exposes the thread-safe API surface of spec.md §5.
package engine

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Duration is a time.Duration that unmarshals from YAML as a
// human-readable string ("5s", "200ms") as well as a raw integer count of
// nanoseconds, which is all ptp4u/server/config.go's plain-numeric
// time.Duration fields accept -- this engine's config favors the more
// readable string form and pays for it with this wrapper type.
type Duration time.Duration

// Dur returns the wrapped time.Duration.
func (d Duration) Dur() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts either a duration string or a raw integer count of
// nanoseconds, so hand-written and machine-generated config files both work.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("engine: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := unmarshal(&ns); err != nil {
		return fmt.Errorf("engine: duration must be a string or integer nanosecond count: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML renders the duration back out in string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds the construction parameters of spec.md §6, field names
// mapped 1:1 onto the original engine's constructor parameters.
type Config struct {
	// ThisEngineID is this engine's own engine id, carried as the
	// originator engine id of every session it originates.
	ThisEngineID uint64 `yaml:"thisEngineId"`
	// EngineIndex is encoded into the high bits of every session number
	// this engine originates; must be in [1,7].
	EngineIndex uint8 `yaml:"engineIndex"`

	MTUClientServiceData uint64 `yaml:"mtuClientServiceData"`
	MTUReportSegment     uint64 `yaml:"mtuReportSegment"`
	// MaxReceptionClaims caps the reception claims a single report
	// segment may carry before it must be split (spec.md §4.6).
	MaxReceptionClaims int `yaml:"maxReceptionClaims"`

	OneWayLightTime  Duration `yaml:"oneWayLightTime"`
	OneWayMarginTime Duration `yaml:"oneWayMarginTime"`

	EstimatedBytesToReceivePerSession uint64 `yaml:"estimatedBytesToReceivePerSession"`
	MaxRedRxBytesPerSession           uint64 `yaml:"maxRedRxBytesPerSession"`

	// CheckpointEveryNthDataPacket, if non-zero, forces a discretionary
	// checkpoint every Nth red data segment in addition to the mandatory
	// end-of-red-part checkpoint. Zero disables discretionary checkpoints.
	CheckpointEveryNthDataPacket uint64 `yaml:"checkpointEveryNthDataPacket"`
	MaxRetriesPerSerialNumber    uint8  `yaml:"maxRetriesPerSerialNumber"`

	// Force32BitSessionNumbers selects the 32-bit session-number layout
	// throughout, per spec.md §4.3.
	Force32BitSessionNumbers bool `yaml:"force32BitSessionNumbers"`

	// MaxSendRateBitsPerSec caps aggregate egress; zero disables rate
	// limiting entirely.
	MaxSendRateBitsPerSec uint64 `yaml:"maxSendRateBitsPerSec"`

	// MaxSimultaneousSessions caps the number of sender sessions and,
	// separately, the number of receiver sessions this engine will run
	// concurrently; zero disables the cap.
	MaxSimultaneousSessions int `yaml:"maxSimultaneousSessions"`

	// RecreationPreventerHistorySize is the per-originator history size
	// of ltp/recreation.Preventer; zero disables recreation prevention.
	RecreationPreventerHistorySize int `yaml:"recreationPreventerHistorySize"`

	// StagnantRxSessionTime bounds how long a receiver session may sit
	// with no new data segment arriving before housekeeping cancels it.
	StagnantRxSessionTime Duration `yaml:"stagnantRxSessionTime"`
	// HousekeepingInterval is how often the stagnation scan runs.
	HousekeepingInterval Duration `yaml:"housekeepingInterval"`
	// TokenRefreshInterval is how often the rate limiter's token bucket
	// is replenished.
	TokenRefreshInterval Duration `yaml:"tokenRefreshInterval"`
}

// DefaultConfig returns reasonable defaults for every field not concerned
// with engine/session identity, which the caller must always supply.
func DefaultConfig() Config {
	return Config{
		MTUClientServiceData:              1400,
		MTUReportSegment:                  1400,
		MaxReceptionClaims:                20,
		OneWayLightTime:                   Duration(250 * time.Millisecond),
		OneWayMarginTime:                  Duration(10 * time.Millisecond),
		EstimatedBytesToReceivePerSession: 1 << 16,
		MaxRedRxBytesPerSession:           1 << 24,
		MaxRetriesPerSerialNumber:         5,
		MaxSimultaneousSessions:           10000,
		RecreationPreventerHistorySize:    1000,
		StagnantRxSessionTime:             Duration(5 * time.Minute),
		HousekeepingInterval:              Duration(10 * time.Second),
		TokenRefreshInterval:              Duration(100 * time.Millisecond),
	}
}

// ReadConfig reads and parses a YAML engine config, starting from
// DefaultConfig so a file only needs to override what it cares about,
// grounded on ptp/sptp/client/config.go's ReadConfig.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("engine: parsing config %q: %w", path, err)
	}
	return &c, nil
}

// RoundTripDeadline is the fixed checkpoint/report retransmission timeout
// of spec.md §4.5: twice the sum of one-way light time and one-way margin
// time, covering the round trip plus processing slack on both ends.
func (c Config) RoundTripDeadline() time.Duration {
	return 2 * (c.OneWayLightTime.Dur() + c.OneWayMarginTime.Dur())
}

// Validate reports a configuration error the way DefaultConfig's caller
// should catch before constructing an Engine.
func (c Config) Validate() error {
	if c.EngineIndex < 1 || c.EngineIndex > 7 {
		return fmt.Errorf("engine: EngineIndex must be in [1,7], got %d", c.EngineIndex)
	}
	if c.MTUClientServiceData == 0 {
		return fmt.Errorf("engine: MTUClientServiceData must be positive")
	}
	return nil
}
