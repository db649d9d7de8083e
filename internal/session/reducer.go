package session

import (
	"time"

	"github.com/prepwise/voice-interview/internal/protocol"
)

// Reduce applies e to s and returns the next snapshot plus the commands to run.
// Pairs without a transition return s unchanged and no commands.
func Reduce(s Snapshot, e Event, c Context, now time.Time) (Snapshot, []Command) {
	if s.State == nil {
		s.State = WaitingForConnection{}
	}
	if s.Done() {
		return s, nil
	}

	switch e := e.(type) {
	case ConnectionStateChanged:
		s.Connection = e.State
		return s, nil
	case TranscriptPartial:
		s.Transcript = s.Transcript.Apply(protocol.TranscriptUpdate{Speaker: e.Speaker, Text: e.Text}, now)
		return s, nil
	case TranscriptCommit:
		s.Transcript = s.Transcript.Apply(protocol.TranscriptUpdate{Speaker: e.Speaker, Text: e.Text, IsFinal: true}, now)
		return s, nil
	case TimerTick:
		s.ElapsedTime += time.Second
		return s, nil
	case InterviewEnded:
		s.State = InterviewComplete{}
		return s, []Command{{Kind: StopAudio}, {Kind: CloseConnection}}
	case ConnectionError:
		s.State = InterviewComplete{}
		s.Connection = ConnError
		s.Err = e.Err
		return s, []Command{{Kind: StopAudio}}
	}

	switch st := s.State.(type) {
	case WaitingForConnection:
		return reduceWaiting(s, st, e, now)
	case Answering:
		return reduceAnswering(s, st, e, c, now)
	case AnswerTimeoutPause:
		return reducePause(s, st, e, now)
	case BlockCompleteScreen:
		return reduceBlockComplete(s, st, e, c)
	}
	return s, nil
}

func reduceWaiting(s Snapshot, st WaitingForConnection, e Event, now time.Time) (Snapshot, []Command) {
	ready, ok := e.(ConnectionReady)
	if !ok {
		return s, nil
	}

	idx := ready.InitialBlockIndex
	if st.TargetBlockIndex != nil {
		idx = *st.TargetBlockIndex
	}
	s.State = Answering{BlockIndex: idx, BlockStartTime: now, AnswerStartTime: now}
	return s, []Command{{Kind: StartConnection, BlockNumber: idx}}
}

func reduceAnswering(s Snapshot, st Answering, e Event, c Context, now time.Time) (Snapshot, []Command) {
	switch e.(type) {
	case Tick:
		if c.AnswerTimeLimit <= 0 || now.Sub(st.AnswerStartTime) < c.AnswerTimeLimit {
			return s, nil
		}
		return enterPause(s, st, now)
	case DevForceAnswerTimeout:
		return enterPause(s, st, now)
	case UserClickedNext, DevForceBlockComplete:
		return completeBlock(s, st.BlockIndex)
	}
	return s, nil
}

func reducePause(s Snapshot, st AnswerTimeoutPause, e Event, now time.Time) (Snapshot, []Command) {
	switch e.(type) {
	case Tick:
		if now.Sub(st.PauseStartedAt) < PauseDuration {
			return s, nil
		}
		return completeBlock(s, st.BlockIndex)
	case DevForceBlockComplete:
		return completeBlock(s, st.BlockIndex)
	}
	return s, nil
}

func reduceBlockComplete(s Snapshot, st BlockCompleteScreen, e Event, c Context) (Snapshot, []Command) {
	if _, ok := e.(UserClickedContinue); !ok {
		return s, nil
	}

	next := st.CompletedBlockIndex + 1
	if next >= c.TotalBlocks {
		s.State = InterviewComplete{}
		return s, []Command{{Kind: StopAudio}, {Kind: CloseConnection}}
	}
	s.State = WaitingForConnection{TargetBlockIndex: &next}
	return s, []Command{{Kind: ReconnectForBlock, BlockNumber: next + 1}}
}

func enterPause(s Snapshot, st Answering, now time.Time) (Snapshot, []Command) {
	s.State = AnswerTimeoutPause{
		BlockIndex:     st.BlockIndex,
		BlockStartTime: st.BlockStartTime,
		PauseStartedAt: now,
	}
	return s, []Command{{Kind: MuteMic}}
}

func completeBlock(s Snapshot, blockIndex int) (Snapshot, []Command) {
	s.State = BlockCompleteScreen{CompletedBlockIndex: blockIndex}
	return s, []Command{{Kind: CompleteBlock, BlockNumber: blockIndex + 1}}
}
