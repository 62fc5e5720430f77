package serialmux

import (
	"bytes"
	"strings"
)

const (
	EventTypeReading = "reading"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// MaxPayloadSize bounds a single framed payload. A GridEye reading of 64
// raw values is well under 1 KiB.
const MaxPayloadSize = 16 * 1024

// ScanBraces is a bufio.SplitFunc yielding one "{...}" payload per token.
// Bytes before an opening brace are discarded. A second opening brace before
// the closing one restarts the payload, so a truncated message never
// swallows the next one. The board sends flat objects, so nesting is not
// supported.
func ScanBraces(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.IndexByte(data, '{')
	if start < 0 {
		// nothing worth keeping
		return len(data), nil, nil
	}
	for i := start + 1; i < len(data); i++ {
		switch data[i] {
		case '{':
			start = i
		case '}':
			return i + 1, data[start : i+1], nil
		}
	}
	if atEOF {
		return len(data), nil, nil
	}
	// keep the partial payload and ask for more
	return start, nil, nil
}

// ClassifyPayload inspects a framed payload and returns a simple event type
// token: readings carry sensor data, status payloads only relay state.
func ClassifyPayload(payload string) string {
	switch {
	case !strings.HasPrefix(strings.TrimSpace(payload), "{"):
		return EventTypeUnknown
	case strings.Contains(payload, `"GE"`):
		return EventTypeReading
	case strings.Contains(payload, `"NLR"`) || strings.Contains(payload, `"LR"`):
		return EventTypeStatus
	default:
		return EventTypeUnknown
	}
}
