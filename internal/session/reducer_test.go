package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepwise/voice-interview/internal/protocol"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func intPtr(i int) *int { return &i }

func TestGoldenPath(t *testing.T) {
	ctx := Context{AnswerTimeLimit: 5 * time.Second, TotalBlocks: 2}
	s := NewSnapshot(nil)

	s, cmds := Reduce(s, ConnectionReady{InitialBlockIndex: 0}, ctx, t0)
	assert.Equal(t, Answering{BlockIndex: 0, BlockStartTime: t0, AnswerStartTime: t0}, s.State)
	assert.Equal(t, []Command{{Kind: StartConnection, BlockNumber: 0}}, cmds)

	s, cmds = Reduce(s, Tick{}, ctx, t0.Add(3000*time.Millisecond))
	assert.IsType(t, Answering{}, s.State)
	assert.Empty(t, cmds)

	s, cmds = Reduce(s, UserClickedNext{}, ctx, t0.Add(4*time.Second))
	assert.Equal(t, BlockCompleteScreen{CompletedBlockIndex: 0}, s.State)
	assert.Equal(t, []Command{{Kind: CompleteBlock, BlockNumber: 1}}, cmds)

	s, cmds = Reduce(s, UserClickedContinue{}, ctx, t0.Add(5*time.Second))
	assert.Equal(t, WaitingForConnection{TargetBlockIndex: intPtr(1)}, s.State)
	assert.Equal(t, []Command{{Kind: ReconnectForBlock, BlockNumber: 2}}, cmds)

	t1 := t0.Add(10 * time.Second)
	s, cmds = Reduce(s, ConnectionReady{InitialBlockIndex: 0}, ctx, t1)
	assert.Equal(t, Answering{BlockIndex: 1, BlockStartTime: t1, AnswerStartTime: t1}, s.State)
	assert.Equal(t, []Command{{Kind: StartConnection, BlockNumber: 1}}, cmds)

	t2 := t1.Add(5500 * time.Millisecond)
	s, cmds = Reduce(s, Tick{}, ctx, t2)
	assert.Equal(t, AnswerTimeoutPause{BlockIndex: 1, BlockStartTime: t1, PauseStartedAt: t2}, s.State)
	assert.Equal(t, []Command{{Kind: MuteMic}}, cmds)

	s, cmds = Reduce(s, Tick{}, ctx, t2.Add(3500*time.Millisecond))
	assert.Equal(t, BlockCompleteScreen{CompletedBlockIndex: 1}, s.State)
	assert.Equal(t, []Command{{Kind: CompleteBlock, BlockNumber: 2}}, cmds)

	s, cmds = Reduce(s, UserClickedContinue{}, ctx, t2.Add(4*time.Second))
	assert.Equal(t, InterviewComplete{}, s.State)
	assert.Equal(t, []Command{{Kind: StopAudio}, {Kind: CloseConnection}}, cmds)
}

func TestSingleBlockShortCircuit(t *testing.T) {
	ctx := Context{AnswerTimeLimit: time.Minute, TotalBlocks: 1}
	s := NewSnapshot(nil)

	s, _ = Reduce(s, ConnectionReady{}, ctx, t0)
	s, _ = Reduce(s, UserClickedNext{}, ctx, t0.Add(time.Second))
	s, cmds := Reduce(s, UserClickedContinue{}, ctx, t0.Add(2*time.Second))

	assert.Equal(t, InterviewComplete{}, s.State)
	for _, c := range cmds {
		assert.NotEqual(t, ReconnectForBlock, c.Kind)
	}
}

func TestResumption(t *testing.T) {
	ctx := Context{AnswerTimeLimit: time.Minute, TotalBlocks: 4}
	s, cmds := Reduce(NewSnapshot(nil), ConnectionReady{InitialBlockIndex: 2}, ctx, t0)

	assert.Equal(t, Answering{BlockIndex: 2, BlockStartTime: t0, AnswerStartTime: t0}, s.State)
	assert.Equal(t, []Command{{Kind: StartConnection, BlockNumber: 2}}, cmds)
}

func TestTimeoutBoundaryIsInclusive(t *testing.T) {
	ctx := Context{AnswerTimeLimit: 5 * time.Second, TotalBlocks: 1}
	s, _ := Reduce(NewSnapshot(nil), ConnectionReady{}, ctx, t0)

	before, cmds := Reduce(s, Tick{}, ctx, t0.Add(5*time.Second-time.Millisecond))
	assert.IsType(t, Answering{}, before.State)
	assert.Empty(t, cmds)

	at, cmds := Reduce(s, Tick{}, ctx, t0.Add(5*time.Second))
	assert.IsType(t, AnswerTimeoutPause{}, at.State)
	assert.Equal(t, []Command{{Kind: MuteMic}}, cmds)
}

func TestPauseBoundaryIsInclusive(t *testing.T) {
	ctx := Context{AnswerTimeLimit: 5 * time.Second, TotalBlocks: 1}
	s := Snapshot{State: AnswerTimeoutPause{BlockIndex: 0, BlockStartTime: t0, PauseStartedAt: t0}}

	before, cmds := Reduce(s, Tick{}, ctx, t0.Add(2999*time.Millisecond))
	assert.IsType(t, AnswerTimeoutPause{}, before.State)
	assert.Empty(t, cmds)

	at, cmds := Reduce(s, Tick{}, ctx, t0.Add(3000*time.Millisecond))
	assert.Equal(t, BlockCompleteScreen{CompletedBlockIndex: 0}, at.State)
	assert.Equal(t, []Command{{Kind: CompleteBlock, BlockNumber: 1}}, cmds)
}

func TestZeroAnswerLimitDisablesTimeout(t *testing.T) {
	ctx := Context{TotalBlocks: 1}
	s, _ := Reduce(NewSnapshot(nil), ConnectionReady{}, ctx, t0)
	s, cmds := Reduce(s, Tick{}, ctx, t0.Add(time.Hour))
	assert.IsType(t, Answering{}, s.State)
	assert.Empty(t, cmds)
}

func TestBlockNumberingAcrossBlocks(t *testing.T) {
	const n = 5
	ctx := Context{AnswerTimeLimit: time.Minute, TotalBlocks: n}
	s := NewSnapshot(nil)
	now := t0

	var completes []int
	for i := 0; i < n; i++ {
		var cmds []Command
		s, _ = Reduce(s, ConnectionReady{}, ctx, now)
		require.Equal(t, i, s.State.(Answering).BlockIndex)

		s, cmds = Reduce(s, UserClickedNext{}, ctx, now)
		require.Len(t, cmds, 1)
		completes = append(completes, cmds[0].BlockNumber)

		s, cmds = Reduce(s, UserClickedContinue{}, ctx, now)
		hasClose := false
		for _, c := range cmds {
			if c.Kind == CloseConnection {
				hasClose = true
			}
		}
		assert.Equal(t, i == n-1, hasClose, "block %d", i+1)
		now = now.Add(time.Minute)
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5}, completes)
	assert.True(t, s.Done())
}

func TestInterviewEndedAndConnectionError(t *testing.T) {
	ctx := Context{AnswerTimeLimit: time.Minute, TotalBlocks: 2}
	answering, _ := Reduce(NewSnapshot(nil), ConnectionReady{}, ctx, t0)

	s, cmds := Reduce(answering, InterviewEnded{}, ctx, t0)
	assert.True(t, s.Done())
	assert.Equal(t, []Command{{Kind: StopAudio}, {Kind: CloseConnection}}, cmds)

	s, cmds = Reduce(answering, ConnectionError{Err: "connection lost"}, ctx, t0)
	assert.True(t, s.Done())
	assert.Equal(t, "connection lost", s.Err)
	assert.Equal(t, ConnError, s.Connection)
	assert.Equal(t, []Command{{Kind: StopAudio}}, cmds)
}

func TestDevEvents(t *testing.T) {
	ctx := Context{AnswerTimeLimit: time.Minute, TotalBlocks: 2}
	answering, _ := Reduce(NewSnapshot(nil), ConnectionReady{}, ctx, t0)

	forcedTimeout, cmds := Reduce(answering, DevForceAnswerTimeout{}, ctx, t0.Add(time.Second))
	timedOut, want := Reduce(answering, Tick{}, ctx, t0.Add(time.Minute))
	assert.IsType(t, AnswerTimeoutPause{}, forcedTimeout.State)
	assert.Equal(t, want, cmds)
	assert.IsType(t, timedOut.State, forcedTimeout.State)

	for _, from := range []Snapshot{answering, forcedTimeout} {
		s, cmds := Reduce(from, DevForceBlockComplete{}, ctx, t0.Add(2*time.Second))
		assert.Equal(t, BlockCompleteScreen{CompletedBlockIndex: 0}, s.State)
		assert.Equal(t, []Command{{Kind: CompleteBlock, BlockNumber: 1}}, cmds)
	}
}

func allStates() []State {
	return []State{
		WaitingForConnection{},
		WaitingForConnection{TargetBlockIndex: intPtr(1)},
		Answering{BlockIndex: 0, BlockStartTime: t0, AnswerStartTime: t0},
		AnswerTimeoutPause{BlockIndex: 0, BlockStartTime: t0, PauseStartedAt: t0},
		BlockCompleteScreen{CompletedBlockIndex: 0},
		InterviewComplete{},
	}
}

func progressEvents() []Event {
	return []Event{
		ConnectionReady{},
		Tick{},
		UserClickedNext{},
		UserClickedContinue{},
		InterviewEnded{},
		ConnectionError{Err: "boom"},
		DevForceAnswerTimeout{},
		DevForceBlockComplete{},
	}
}

// listed reports whether (state, event) has a transition in the table.
// Tick is evaluated at t0, where neither deadline has elapsed.
func listed(s State, e Event) bool {
	if _, ok := s.(InterviewComplete); ok {
		return false
	}
	switch e.(type) {
	case InterviewEnded, ConnectionError:
		return true
	}
	switch s.(type) {
	case WaitingForConnection:
		_, ok := e.(ConnectionReady)
		return ok
	case Answering:
		switch e.(type) {
		case UserClickedNext, DevForceAnswerTimeout, DevForceBlockComplete:
			return true
		}
	case AnswerTimeoutPause:
		_, ok := e.(DevForceBlockComplete)
		return ok
	case BlockCompleteScreen:
		_, ok := e.(UserClickedContinue)
		return ok
	}
	return false
}

func TestReducerTotality(t *testing.T) {
	ctx := Context{AnswerTimeLimit: 5 * time.Second, TotalBlocks: 3}

	for _, st := range allStates() {
		for _, ev := range progressEvents() {
			in := Snapshot{State: st, Connection: ConnLive}
			out, cmds := Reduce(in, ev, ctx, t0)
			if listed(st, ev) {
				continue
			}
			assert.Equal(t, in, out, "%s + %s", st.Name(), EventName(ev))
			assert.Empty(t, cmds, "%s + %s", st.Name(), EventName(ev))
		}
	}
}

func TestDriverEventsNeverChangeVariant(t *testing.T) {
	ctx := Context{AnswerTimeLimit: 5 * time.Second, TotalBlocks: 3}
	driverEvents := []Event{
		ConnectionStateChanged{State: ConnLive},
		TranscriptPartial{Speaker: protocol.SpeakerUser, Text: "hi"},
		TranscriptCommit{Speaker: protocol.SpeakerAI, Text: "hello"},
		TimerTick{},
	}

	for _, st := range allStates() {
		for _, ev := range driverEvents {
			out, cmds := Reduce(Snapshot{State: st}, ev, ctx, t0)
			assert.Equal(t, st, out.State)
			assert.Empty(t, cmds)
		}
	}
}

func TestDriverEventsUpdateOrthogonalFields(t *testing.T) {
	ctx := Context{TotalBlocks: 1}
	s := NewSnapshot(nil)

	s, _ = Reduce(s, ConnectionStateChanged{State: ConnLive}, ctx, t0)
	s, _ = Reduce(s, TimerTick{}, ctx, t0)
	s, _ = Reduce(s, TimerTick{}, ctx, t0)
	s, _ = Reduce(s, TranscriptPartial{Speaker: protocol.SpeakerUser, Text: "so"}, ctx, t0)
	s, _ = Reduce(s, TranscriptCommit{Speaker: protocol.SpeakerAI, Text: "Welcome."}, ctx, t0)

	assert.Equal(t, ConnLive, s.Connection)
	assert.Equal(t, 2*time.Second, s.ElapsedTime)
	assert.Equal(t, "so", s.PendingUser())
	assert.Equal(t, "", s.PendingAI())
	assert.Equal(t, 1, s.Transcript.Len())
}

func TestTimerTickCountsWhileReconnecting(t *testing.T) {
	ctx := Context{TotalBlocks: 2}
	next := 1
	s := Snapshot{State: WaitingForConnection{TargetBlockIndex: &next}, Connection: ConnConnecting}

	s, cmds := Reduce(s, TimerTick{}, ctx, t0)
	assert.Empty(t, cmds)
	assert.Equal(t, time.Second, s.ElapsedTime)

	s, _ = Reduce(s, ConnectionStateChanged{State: ConnEnding}, ctx, t0)
	s, _ = Reduce(s, TimerTick{}, ctx, t0)
	assert.Equal(t, 2*time.Second, s.ElapsedTime)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	ctx := Context{TotalBlocks: 1}
	s, _ := Reduce(NewSnapshot(nil), TranscriptCommit{Speaker: protocol.SpeakerAI, Text: "one"}, ctx, t0)

	_, _ = Reduce(s, TranscriptCommit{Speaker: protocol.SpeakerUser, Text: "two"}, ctx, t0)
	assert.Equal(t, 1, s.Transcript.Len())
}
