package logger

import (
	"fmt"
	"log/slog"
	"strings"
)

// MaxValueLen is the longest string value written to the log verbatim.
const MaxValueLen = 256

// payloadKeys name attributes that carry device contents. Their values are
// replaced by a length summary.
var payloadKeys = []string{"data", "payload", "content"}

func elidePayload(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		s := a.Value.String()
		if IsPayloadKey(a.Key) && s != "" {
			return slog.String(a.Key, Summarize(len(s)))
		}
		if len(s) > MaxValueLen {
			return slog.String(a.Key, Truncate(s))
		}
	case slog.KindAny:
		if b, ok := a.Value.Any().([]byte); ok {
			return slog.String(a.Key, Summarize(len(b)))
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = elidePayload(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// IsPayloadKey reports whether key names device contents.
func IsPayloadKey(key string) bool {
	k := strings.ToLower(key)
	for _, p := range payloadKeys {
		if k == p {
			return true
		}
	}
	return false
}

// Summarize renders a payload length.
func Summarize(n int) string {
	return fmt.Sprintf("<%d bytes>", n)
}

// Truncate shortens s to MaxValueLen bytes and notes how much was cut.
func Truncate(s string) string {
	if len(s) <= MaxValueLen {
		return s
	}
	return fmt.Sprintf("%s...(%d more bytes)", s[:MaxValueLen], len(s)-MaxValueLen)
}
