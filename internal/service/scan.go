package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ScanInterval controls directory scanning of a bus server.
//
// The zero value, ScanOnce, scans a single time right after the connection
// starts. ScanNever disables scanning. Positive values rescan periodically.
type ScanInterval time.Duration

const (
	// ScanOnce scans once after the server connects.
	ScanOnce ScanInterval = 0

	// ScanNever disables directory scanning.
	ScanNever ScanInterval = -1
)

// Every returns a periodic scan interval. Non-positive durations yield ScanOnce.
func Every(d time.Duration) ScanInterval {
	if d <= 0 {
		return ScanOnce
	}
	return ScanInterval(d)
}

// Periodic reports whether scans repeat.
func (s ScanInterval) Periodic() bool { return s > 0 }

// Disabled reports whether scanning is turned off.
func (s ScanInterval) Disabled() bool { return s < 0 }

// Duration returns the period between scans (zero unless Periodic).
func (s ScanInterval) Duration() time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s)
}

func (s ScanInterval) String() string {
	switch {
	case s < 0:
		return "never"
	case s == 0:
		return "once"
	default:
		return time.Duration(s).String()
	}
}

// ParseScanInterval accepts "once", "never", a Go duration ("30s") or a
// whole number of seconds ("30"). An empty string means once.
func ParseScanInterval(raw string) (ScanInterval, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))

	switch raw {
	case "", "once", "0":
		return ScanOnce, nil
	case "never", "none", "off", "disabled":
		return ScanNever, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidScanInterval, raw)
		}
		return Every(time.Duration(secs) * time.Second), nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScanInterval, raw)
	}
	return Every(d), nil
}

// MarshalText implements encoding.TextMarshaler.
func (s ScanInterval) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ScanInterval) UnmarshalText(text []byte) error {
	v, err := ParseScanInterval(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// UnmarshalYAML accepts the same forms as ParseScanInterval, including bare
// integers.
func (s *ScanInterval) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected a scalar", ErrInvalidScanInterval, value.Line)
	}
	return s.UnmarshalText([]byte(value.Value))
}
