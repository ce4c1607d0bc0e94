package chatstore

import "time"

// DateConverter is implemented by provider-native timestamp wrappers
// that expose their instant via a ToDate accessor.
type DateConverter interface {
	ToDate() time.Time
}

// normalizeTimestamp converts any accepted timestamp representation to
// the canonical serialized form (RFC 3339). Recognized shapes: native
// time.Time, already-serialized string, and DateConverter wrappers.
// Anything else defaults to now.
func normalizeTimestamp(v any, now time.Time) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t != nil {
			return t.UTC().Format(time.RFC3339Nano)
		}
	case string:
		if t != "" {
			return t
		}
	case DateConverter:
		return t.ToDate().UTC().Format(time.RFC3339Nano)
	}
	return now.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp converts any accepted representation back to a native
// instant, defaulting to now only on unparseable input.
func parseTimestamp(v any, now time.Time) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case *time.Time:
		if t != nil {
			return *t
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	case DateConverter:
		return t.ToDate()
	}
	return now
}
