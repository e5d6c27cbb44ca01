// Package timesvc produces ISO-8601 timestamps for diagnostic messages.
package timesvc

import (
    "fmt"
    "time"
)

// Mode selects the time zone applied to formatted timestamps.
type Mode int

const (
    // ModeSystem follows the process time zone (TZ environment / localtime).
    ModeSystem Mode = iota
    // ModeUTC forces UTC with a trailing Z designator.
    ModeUTC
    // ModeLocal forces the host's local zone with a numeric offset.
    ModeLocal
)

// BufLen is the number of bytes Format may write: microsecond precision plus
// a numeric zone offset, e.g. "2006-01-02T15:04:05.000000+07:00".
const BufLen = 33

const (
    layoutOffset = "2006-01-02T15:04:05.000000-07:00"
    layoutUTC    = "2006-01-02T15:04:05.000000Z"
)

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
    switch s {
    case "", "system", "system-default":
        return ModeSystem, nil
    case "utc", "UTC":
        return ModeUTC, nil
    case "local":
        return ModeLocal, nil
    }
    return ModeSystem, fmt.Errorf("timesvc: unknown timestamp mode %q", s)
}

func (m Mode) String() string {
    switch m {
    case ModeUTC:
        return "utc"
    case ModeLocal:
        return "local"
    }
    return "system-default"
}

// Service formats timestamps in a fixed zone mode.
type Service struct {
    mode Mode
}

func New(mode Mode) *Service { return &Service{mode: mode} }

func (s *Service) Mode() Mode { return s.mode }

// Now returns the current time as an ISO-8601 string.
func (s *Service) Now() string {
    return s.FormatTime(time.Now())
}

// FormatTime renders t in the service's zone mode.
func (s *Service) FormatTime(t time.Time) string {
    switch s.mode {
    case ModeUTC:
        return t.UTC().Format(layoutUTC)
    case ModeLocal:
        return t.Local().Format(layoutOffset)
    default:
        return t.Format(layoutOffset)
    }
}

// Format writes the timestamp into buf and returns the number of bytes
// written. buf must be at least BufLen bytes.
func (s *Service) Format(buf []byte, t time.Time) int {
    out := s.FormatTime(t)
    return copy(buf, out)
}
