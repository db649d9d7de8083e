package session

import "fmt"

// CommandKind enumerates the side effects the reducer can request.
type CommandKind int

const (
	// StartConnection begins the block; BlockNumber carries the block index.
	StartConnection CommandKind = iota + 1
	// ReconnectForBlock closes the current channel and dials BlockNumber (1-indexed).
	ReconnectForBlock
	// CompleteBlock ends block BlockNumber (1-indexed).
	CompleteBlock
	MuteMic
	StopAudio
	CloseConnection
	// StopAIAudio is issued by the driver itself on barge-in.
	StopAIAudio
)

func (k CommandKind) String() string {
	switch k {
	case StartConnection:
		return "START_CONNECTION"
	case ReconnectForBlock:
		return "RECONNECT_FOR_BLOCK"
	case CompleteBlock:
		return "COMPLETE_BLOCK"
	case MuteMic:
		return "MUTE_MIC"
	case StopAudio:
		return "STOP_AUDIO"
	case CloseConnection:
		return "CLOSE_CONNECTION"
	case StopAIAudio:
		return "STOP_AI_AUDIO"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is one requested side effect.
type Command struct {
	Kind        CommandKind
	BlockNumber int
}

func (c Command) String() string {
	switch c.Kind {
	case StartConnection, ReconnectForBlock, CompleteBlock:
		return fmt.Sprintf("%s{%d}", c.Kind, c.BlockNumber)
	default:
		return c.Kind.String()
	}
}
