// Package protocol defines the binary messages exchanged between the interview
// client, the relay worker and the backend. Every message uses the protobuf wire
// format; one WebSocket binary frame carries exactly one envelope.
package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Speaker identifies who produced a transcript fragment.
type Speaker int32

const (
	SpeakerUnspecified Speaker = 0
	SpeakerUser        Speaker = 1
	SpeakerAI          Speaker = 2
)

func (s Speaker) String() string {
	switch s {
	case SpeakerUser:
		return "USER"
	case SpeakerAI:
		return "AI"
	default:
		return "UNSPECIFIED"
	}
}

// EndReason explains a graceful SessionEnded notification.
type EndReason int32

const (
	EndReasonUnspecified   EndReason = 0
	EndReasonUserInitiated EndReason = 1
	EndReasonModelEnded    EndReason = 2
	EndReasonTimeout       EndReason = 3
)

func (r EndReason) String() string {
	switch r {
	case EndReasonUserInitiated:
		return "USER_INITIATED"
	case EndReasonModelEnded:
		return "MODEL_ENDED"
	case EndReasonTimeout:
		return "TIMEOUT"
	default:
		return "UNSPECIFIED"
	}
}

// Error codes carried by ErrorResponse.
const (
	CodeBadRequest   int32 = 400
	CodeUnauthorized int32 = 401
	CodeNotFound     int32 = 404
	CodeConflict     int32 = 409
	CodeInternal     int32 = 500
	CodeUpstream     int32 = 502
)

// Field numbers.
const (
	clientAudioChunkField protowire.Number = 1
	clientEndRequestField protowire.Number = 2

	serverTranscriptField   protowire.Number = 1
	serverAudioField        protowire.Number = 2
	serverErrorField        protowire.Number = 3
	serverSessionEndedField protowire.Number = 4
)

// AudioChunk is 16-bit little-endian mono PCM at 16 kHz.
type AudioChunk struct {
	AudioContent []byte
}

// EndRequest asks the relay to gracefully terminate the current block.
type EndRequest struct{}

// ClientMessage is the client→server envelope. Exactly one member is set.
type ClientMessage struct {
	AudioChunk *AudioChunk
	EndRequest *EndRequest
}

// NewAudioChunkMessage wraps pcm in a client envelope.
func NewAudioChunkMessage(pcm []byte) *ClientMessage {
	return &ClientMessage{AudioChunk: &AudioChunk{AudioContent: pcm}}
}

// NewEndRequestMessage returns a client envelope carrying EndRequest.
func NewEndRequestMessage() *ClientMessage {
	return &ClientMessage{EndRequest: &EndRequest{}}
}

func (m *ClientMessage) payloadCount() int {
	n := 0
	if m.AudioChunk != nil {
		n++
	}
	if m.EndRequest != nil {
		n++
	}
	return n
}

// Empty reports whether no known member is set (e.g. a newer client sent an unknown variant).
func (m *ClientMessage) Empty() bool { return m.payloadCount() == 0 }

// Kind names the set member, for logging.
func (m *ClientMessage) Kind() string {
	switch {
	case m.AudioChunk != nil:
		return "audio_chunk"
	case m.EndRequest != nil:
		return "end_request"
	default:
		return "none"
	}
}

// MarshalWire encodes the envelope. Zero or multiple members is an error.
func (m *ClientMessage) MarshalWire() ([]byte, error) {
	switch m.payloadCount() {
	case 0:
		return nil, ErrNoPayload
	case 1:
	default:
		return nil, ErrMultiplePayloads
	}

	var b []byte
	switch {
	case m.AudioChunk != nil:
		inner := appendBytesField(nil, 1, m.AudioChunk.AudioContent)
		b = appendMessageField(b, clientAudioChunkField, inner)
	case m.EndRequest != nil:
		b = appendMessageField(b, clientEndRequestField, nil)
	}
	return b, nil
}

// UnmarshalWire decodes b into m. Unknown members are skipped; more than one known member is rejected.
func (m *ClientMessage) UnmarshalWire(b []byte) error {
	*m = ClientMessage{}
	seen := 0
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case clientAudioChunkField:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			chunk := &AudioChunk{}
			if err := chunk.unmarshal(v); err != nil {
				return 0, err
			}
			m.AudioChunk = chunk
			seen++
			return n, nil
		case clientEndRequestField:
			_, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			m.EndRequest = &EndRequest{}
			seen++
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return err
	}
	if seen > 1 {
		return ErrMultiplePayloads
	}
	return nil
}

func (c *AudioChunk) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		v, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		if len(v) > 0 {
			c.AudioContent = v
		}
		return n, nil
	})
}

// DecodeClientMessage is a convenience wrapper around UnmarshalWire.
func DecodeClientMessage(b []byte) (*ClientMessage, error) {
	m := &ClientMessage{}
	if err := m.UnmarshalWire(b); err != nil {
		return nil, err
	}
	return m, nil
}

// TranscriptUpdate is an incremental recognition (USER) or generation (AI) result.
// Partials carry the whole text so far, not a delta.
type TranscriptUpdate struct {
	Speaker Speaker
	Text    string
	IsFinal bool
}

// AudioResponse is 16-bit little-endian mono PCM at 24 kHz.
type AudioResponse struct {
	AudioContent []byte
}

// ErrorResponse terminates the session from the server's perspective.
type ErrorResponse struct {
	Code    int32
	Message string
}

// SessionEnded is the graceful close notification.
type SessionEnded struct {
	Reason EndReason
}

// ServerMessage is the server→client envelope. Exactly one member is set.
type ServerMessage struct {
	TranscriptUpdate *TranscriptUpdate
	AudioResponse    *AudioResponse
	ErrorResponse    *ErrorResponse
	SessionEnded     *SessionEnded
}

func NewTranscriptMessage(speaker Speaker, text string, isFinal bool) *ServerMessage {
	return &ServerMessage{TranscriptUpdate: &TranscriptUpdate{Speaker: speaker, Text: text, IsFinal: isFinal}}
}

func NewAudioResponseMessage(pcm []byte) *ServerMessage {
	return &ServerMessage{AudioResponse: &AudioResponse{AudioContent: pcm}}
}

func NewErrorMessage(code int32, message string) *ServerMessage {
	return &ServerMessage{ErrorResponse: &ErrorResponse{Code: code, Message: message}}
}

func NewSessionEndedMessage(reason EndReason) *ServerMessage {
	return &ServerMessage{SessionEnded: &SessionEnded{Reason: reason}}
}

func (m *ServerMessage) payloadCount() int {
	n := 0
	if m.TranscriptUpdate != nil {
		n++
	}
	if m.AudioResponse != nil {
		n++
	}
	if m.ErrorResponse != nil {
		n++
	}
	if m.SessionEnded != nil {
		n++
	}
	return n
}

// Empty reports whether no known member is set.
func (m *ServerMessage) Empty() bool { return m.payloadCount() == 0 }

// Kind names the set member, for logging.
func (m *ServerMessage) Kind() string {
	switch {
	case m.TranscriptUpdate != nil:
		return "transcript_update"
	case m.AudioResponse != nil:
		return "audio_response"
	case m.ErrorResponse != nil:
		return "error_response"
	case m.SessionEnded != nil:
		return "session_ended"
	default:
		return "none"
	}
}

// MarshalWire encodes the envelope. Zero or multiple members is an error.
func (m *ServerMessage) MarshalWire() ([]byte, error) {
	switch m.payloadCount() {
	case 0:
		return nil, ErrNoPayload
	case 1:
	default:
		return nil, ErrMultiplePayloads
	}

	var inner []byte
	var field protowire.Number
	switch {
	case m.TranscriptUpdate != nil:
		field = serverTranscriptField
		inner = appendVarintField(inner, 1, int32ToWire(int32(m.TranscriptUpdate.Speaker)))
		inner = appendStringField(inner, 2, m.TranscriptUpdate.Text)
		inner = appendVarintField(inner, 3, protowire.EncodeBool(m.TranscriptUpdate.IsFinal))
	case m.AudioResponse != nil:
		field = serverAudioField
		inner = appendBytesField(inner, 1, m.AudioResponse.AudioContent)
	case m.ErrorResponse != nil:
		field = serverErrorField
		inner = appendVarintField(inner, 1, int32ToWire(m.ErrorResponse.Code))
		inner = appendStringField(inner, 2, m.ErrorResponse.Message)
	case m.SessionEnded != nil:
		field = serverSessionEndedField
		inner = appendVarintField(inner, 1, int32ToWire(int32(m.SessionEnded.Reason)))
	}
	return appendMessageField(nil, field, inner), nil
}

// UnmarshalWire decodes b into m. Unknown members are skipped; more than one known member is rejected.
func (m *ServerMessage) UnmarshalWire(b []byte) error {
	*m = ServerMessage{}
	seen := 0
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case serverTranscriptField, serverAudioField, serverErrorField, serverSessionEndedField:
		default:
			return skipField(num, typ, b)
		}

		v, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		seen++

		switch num {
		case serverTranscriptField:
			u := &TranscriptUpdate{}
			err = walkFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					x, n, err := consumeVarint(num, typ, b)
					u.Speaker = Speaker(wireToInt32(x))
					return n, err
				case 2:
					s, n, err := consumeBytes(num, typ, b)
					u.Text = string(s)
					return n, err
				case 3:
					x, n, err := consumeVarint(num, typ, b)
					u.IsFinal = protowire.DecodeBool(x)
					return n, err
				default:
					return skipField(num, typ, b)
				}
			})
			m.TranscriptUpdate = u
		case serverAudioField:
			a := &AudioResponse{}
			err = walkFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num != 1 {
					return skipField(num, typ, b)
				}
				s, n, err := consumeBytes(num, typ, b)
				if len(s) > 0 {
					a.AudioContent = s
				}
				return n, err
			})
			m.AudioResponse = a
		case serverErrorField:
			e := &ErrorResponse{}
			err = walkFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					x, n, err := consumeVarint(num, typ, b)
					e.Code = wireToInt32(x)
					return n, err
				case 2:
					s, n, err := consumeBytes(num, typ, b)
					e.Message = string(s)
					return n, err
				default:
					return skipField(num, typ, b)
				}
			})
			m.ErrorResponse = e
		case serverSessionEndedField:
			se := &SessionEnded{}
			err = walkFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num != 1 {
					return skipField(num, typ, b)
				}
				x, n, err := consumeVarint(num, typ, b)
				se.Reason = EndReason(wireToInt32(x))
				return n, err
			})
			m.SessionEnded = se
		}
		if err != nil {
			return 0, fmt.Errorf("decode %s: %w", m.Kind(), err)
		}
		return n, nil
	})
	if err != nil {
		return err
	}
	if seen > 1 {
		return ErrMultiplePayloads
	}
	return nil
}

// DecodeServerMessage is a convenience wrapper around UnmarshalWire.
func DecodeServerMessage(b []byte) (*ServerMessage, error) {
	m := &ServerMessage{}
	if err := m.UnmarshalWire(b); err != nil {
		return nil, err
	}
	return m, nil
}
