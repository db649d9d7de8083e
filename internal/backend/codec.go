// Package backend carries the worker-to-backend RPCs over gRPC. Messages use
// the protocol package's wire encoding instead of generated protobuf types,
// selected per call by the "interviewwire" content subtype.
package backend

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/prepwise/voice-interview/internal/protocol"
)

// CodecName is the gRPC content subtype of the backend service.
const CodecName = "interviewwire"

type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(protocol.Message)
	if !ok {
		return nil, fmt.Errorf("%s codec: cannot marshal %T", CodecName, v)
	}
	return m.MarshalWire()
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(protocol.Message)
	if !ok {
		return fmt.Errorf("%s codec: cannot unmarshal into %T", CodecName, v)
	}
	return m.UnmarshalWire(data)
}

func (wireCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(wireCodec{})
}
