package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrEmptyTranscript is returned by DecodeTranscript when the blob holds no entries.
var ErrEmptyTranscript = errors.New("protocol: transcript is empty")

// TranscriptEntry is one utterance. Only final entries are persisted.
type TranscriptEntry struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
	IsFinal   bool
}

// EncodeTranscript serialises entries as a repeated message (field 1).
func EncodeTranscript(entries []TranscriptEntry) []byte {
	var b []byte
	for _, e := range entries {
		var inner []byte
		inner = appendVarintField(inner, 1, int32ToWire(int32(e.Speaker)))
		inner = appendStringField(inner, 2, e.Text)
		inner = appendTime(inner, 3, e.Timestamp)
		inner = appendVarintField(inner, 4, protowire.EncodeBool(e.IsFinal))
		b = appendMessageField(b, 1, inner)
	}
	return b
}

// DecodeTranscript parses a blob written by EncodeTranscript. A nil or
// entry-less blob yields ErrEmptyTranscript.
func DecodeTranscript(b []byte) ([]TranscriptEntry, error) {
	var entries []TranscriptEntry
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		v, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		var e TranscriptEntry
		err = walkFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				var s int32
				n, err := consumeInt32(num, typ, b, &s)
				e.Speaker = Speaker(s)
				return n, err
			case 2:
				return consumeString(num, typ, b, &e.Text)
			case 3:
				return consumeTime(num, typ, b, &e.Timestamp)
			case 4:
				x, n, err := consumeVarint(num, typ, b)
				e.IsFinal = protowire.DecodeBool(x)
				return n, err
			default:
				return skipField(num, typ, b)
			}
		})
		if err != nil {
			return 0, fmt.Errorf("transcript entry %d: %w", len(entries), err)
		}
		entries = append(entries, e)
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyTranscript
	}
	return entries, nil
}

// FormatTranscript renders entries as "SPEAKER: text" lines, the shape fed to the feedback model.
func FormatTranscript(entries []TranscriptEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		label := "Candidate"
		if e.Speaker == SpeakerAI {
			label = "Interviewer"
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(e.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
