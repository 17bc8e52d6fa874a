package omnicas

import (
	"time"
)

// ClusterTimeLayout is the format of cluster time, creation date and event
// time strings. Values are UTC.
const ClusterTimeLayout = "2006.01.02 15:04:05"

var (
	// Epoch is reported for event times that were never set.
	Epoch = time.Unix(0, 0).UTC()

	// EndOfTime is the expiry of infinite retention.
	EndOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// ParseClusterTime parses a cluster time string. The empty string is Epoch.
func ParseClusterTime(s string) (time.Time, error) {
	if s == "" {
		return Epoch, nil
	}
	return time.ParseInLocation(ClusterTimeLayout, s, time.UTC)
}

// parseTime parses a time string read back from the engine. A malformed
// value is a protocol error.
func parseTime(op, s string) (time.Time, error) {
	t, err := ParseClusterTime(s)
	if err != nil {
		return time.Time{}, &Error{
			Op:    op,
			Code:  ErrCodeProtocol,
			Class: ErrCodeProtocol.Class(),
			Text:  ErrCodeProtocol.String(),
			Err:   err,
		}
	}
	return t, nil
}

// FormatClusterTime formats t in cluster time layout.
func FormatClusterTime(t time.Time) string {
	return t.UTC().Format(ClusterTimeLayout)
}

// Retention period sentinels. They are negative so they never collide with a
// real period.
const (
	RetentionInfinite time.Duration = -1
	RetentionDefault  time.Duration = -2
)

// periodToSeconds converts a retention duration to the native value. The
// sentinels and zero pass through unchanged.
func periodToSeconds(d time.Duration) int64 {
	if d <= 0 {
		return int64(d)
	}
	return int64(d / time.Second)
}

// secondsToPeriod is the inverse of periodToSeconds.
func secondsToPeriod(s int64) time.Duration {
	if s < 0 {
		return time.Duration(s)
	}
	return time.Duration(s) * time.Second
}
