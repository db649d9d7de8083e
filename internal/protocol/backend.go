package protocol

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// InterviewStatus mirrors the persisted interview lifecycle.
type InterviewStatus int32

const (
	StatusUnspecified InterviewStatus = 0
	StatusPending     InterviewStatus = 1
	StatusInProgress  InterviewStatus = 2
	StatusCompleted   InterviewStatus = 3
	StatusError       InterviewStatus = 4
)

func (s InterviewStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusError:
		return "ERROR"
	default:
		return "UNSPECIFIED"
	}
}

// ParseInterviewStatus is the inverse of String. Unknown values map to StatusUnspecified.
func ParseInterviewStatus(s string) InterviewStatus {
	switch s {
	case "PENDING":
		return StatusPending
	case "IN_PROGRESS":
		return StatusInProgress
	case "COMPLETED":
		return StatusCompleted
	case "ERROR":
		return StatusError
	default:
		return StatusUnspecified
	}
}

// Terminal reports whether no further sessions may be opened for the interview.
func (s InterviewStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// BlockNumber returns a pointer suitable for the optional blockNumber fields.
func BlockNumber(n int32) *int32 { return &n }

func appendOptionalInt32(b []byte, num protowire.Number, v *int32) []byte {
	if v == nil {
		return b
	}
	return appendPresentVarint(b, num, int32ToWire(*v))
}

func appendOptionalString(b []byte, num protowire.Number, v *string) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, *v)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	return appendPresentVarint(b, num, uint64(t.UnixMilli()))
}

func consumeString(num protowire.Number, typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n, err := consumeBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = string(v)
	return n, nil
}

func consumeOptionalString(num protowire.Number, typ protowire.Type, b []byte, dst **string) (int, error) {
	var s string
	n, err := consumeString(num, typ, b, &s)
	if err != nil {
		return 0, err
	}
	*dst = &s
	return n, nil
}

func consumeInt32(num protowire.Number, typ protowire.Type, b []byte, dst *int32) (int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = wireToInt32(v)
	return n, nil
}

func consumeOptionalInt32(num protowire.Number, typ protowire.Type, b []byte, dst **int32) (int, error) {
	var v int32
	n, err := consumeInt32(num, typ, b, &v)
	if err != nil {
		return 0, err
	}
	*dst = &v
	return n, nil
}

func consumeTime(num protowire.Number, typ protowire.Type, b []byte, dst *time.Time) (int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = time.UnixMilli(int64(v)).UTC()
	return n, nil
}

// GetContextRequest asks for the interview (and optionally block) context.
type GetContextRequest struct {
	InterviewID string
	BlockNumber *int32
}

func (m *GetContextRequest) MarshalWire() ([]byte, error) {
	b := appendStringField(nil, 1, m.InterviewID)
	return appendOptionalInt32(b, 2, m.BlockNumber), nil
}

func (m *GetContextRequest) UnmarshalWire(b []byte) error {
	*m = GetContextRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(num, typ, b, &m.InterviewID)
		case 2:
			return consumeOptionalInt32(num, typ, b, &m.BlockNumber)
		default:
			return skipField(num, typ, b)
		}
	})
}

// GetContextResponse seeds the speech model for one session.
type GetContextResponse struct {
	JobDescription string
	Resume         string
	Persona        string
	DurationMs     int64
	SystemPrompt   *string
	Language       *string
	TotalBlocks    int32
	Question       *string
}

// Duration is DurationMs as a time.Duration.
func (m *GetContextResponse) Duration() time.Duration {
	return time.Duration(m.DurationMs) * time.Millisecond
}

func (m *GetContextResponse) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendStringField(b, 1, m.JobDescription)
	b = appendStringField(b, 2, m.Resume)
	b = appendStringField(b, 3, m.Persona)
	b = appendVarintField(b, 4, uint64(m.DurationMs))
	b = appendOptionalString(b, 5, m.SystemPrompt)
	b = appendOptionalString(b, 6, m.Language)
	b = appendVarintField(b, 7, int32ToWire(m.TotalBlocks))
	b = appendOptionalString(b, 8, m.Question)
	return b, nil
}

func (m *GetContextResponse) UnmarshalWire(b []byte) error {
	*m = GetContextResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(num, typ, b, &m.JobDescription)
		case 2:
			return consumeString(num, typ, b, &m.Resume)
		case 3:
			return consumeString(num, typ, b, &m.Persona)
		case 4:
			v, n, err := consumeVarint(num, typ, b)
			m.DurationMs = int64(v)
			return n, err
		case 5:
			return consumeOptionalString(num, typ, b, &m.SystemPrompt)
		case 6:
			return consumeOptionalString(num, typ, b, &m.Language)
		case 7:
			return consumeInt32(num, typ, b, &m.TotalBlocks)
		case 8:
			return consumeOptionalString(num, typ, b, &m.Question)
		default:
			return skipField(num, typ, b)
		}
	})
}

// UpdateStatusRequest moves an interview to a new status.
type UpdateStatusRequest struct {
	InterviewID string
	Status      InterviewStatus
	EndedAt     time.Time
}

func (m *UpdateStatusRequest) MarshalWire() ([]byte, error) {
	b := appendStringField(nil, 1, m.InterviewID)
	b = appendVarintField(b, 2, int32ToWire(int32(m.Status)))
	return appendTime(b, 3, m.EndedAt), nil
}

func (m *UpdateStatusRequest) UnmarshalWire(b []byte) error {
	*m = UpdateStatusRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(num, typ, b, &m.InterviewID)
		case 2:
			var v int32
			n, err := consumeInt32(num, typ, b, &v)
			m.Status = InterviewStatus(v)
			return n, err
		case 3:
			return consumeTime(num, typ, b, &m.EndedAt)
		default:
			return skipField(num, typ, b)
		}
	})
}

// SubmitTranscriptRequest persists the encoded transcript of a block or legacy interview.
type SubmitTranscriptRequest struct {
	InterviewID string
	Transcript  []byte
	EndedAt     time.Time
	BlockNumber *int32
}

func (m *SubmitTranscriptRequest) MarshalWire() ([]byte, error) {
	b := appendStringField(nil, 1, m.InterviewID)
	b = appendBytesField(b, 2, m.Transcript)
	b = appendTime(b, 3, m.EndedAt)
	return appendOptionalInt32(b, 4, m.BlockNumber), nil
}

func (m *SubmitTranscriptRequest) UnmarshalWire(b []byte) error {
	*m = SubmitTranscriptRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(num, typ, b, &m.InterviewID)
		case 2:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			m.Transcript = append([]byte(nil), v...)
			return n, nil
		case 3:
			return consumeTime(num, typ, b, &m.EndedAt)
		case 4:
			return consumeOptionalInt32(num, typ, b, &m.BlockNumber)
		default:
			return skipField(num, typ, b)
		}
	})
}

// SubmitFeedbackRequest stores holistic interview feedback produced outside the pipeline.
type SubmitFeedbackRequest struct {
	InterviewID              string
	Summary                  string
	Strengths                string
	ContentAndStructure      string
	CommunicationAndDelivery string
	Presentation             string
}

func (m *SubmitFeedbackRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendStringField(b, 1, m.InterviewID)
	b = appendStringField(b, 2, m.Summary)
	b = appendStringField(b, 3, m.Strengths)
	b = appendStringField(b, 4, m.ContentAndStructure)
	b = appendStringField(b, 5, m.CommunicationAndDelivery)
	b = appendStringField(b, 6, m.Presentation)
	return b, nil
}

func (m *SubmitFeedbackRequest) UnmarshalWire(b []byte) error {
	*m = SubmitFeedbackRequest{}
	fields := []*string{nil, &m.InterviewID, &m.Summary, &m.Strengths, &m.ContentAndStructure, &m.CommunicationAndDelivery, &m.Presentation}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num >= 1 && int(num) < len(fields) {
			return consumeString(num, typ, b, fields[num])
		}
		return skipField(num, typ, b)
	})
}

// SuccessResponse is the reply of every mutating backend call.
type SuccessResponse struct {
	Success bool
}

func (m *SuccessResponse) MarshalWire() ([]byte, error) {
	return appendVarintField(nil, 1, protowire.EncodeBool(m.Success)), nil
}

func (m *SuccessResponse) UnmarshalWire(b []byte) error {
	*m = SuccessResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		v, n, err := consumeVarint(num, typ, b)
		m.Success = protowire.DecodeBool(v)
		return n, err
	})
}
