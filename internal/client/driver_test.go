package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepwise/voice-interview/internal/latch"
	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/session"
)

type fakeChannel struct {
	msgs chan *protocol.ServerMessage

	mu     sync.Mutex
	sent   []*protocol.ClientMessage
	closed bool
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{msgs: make(chan *protocol.ServerMessage, 16)}
}

func (c *fakeChannel) Send(msg *protocol.ClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Messages() <-chan *protocol.ServerMessage { return c.msgs }
func (c *fakeChannel) Err() error                               { return nil }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.hangUp()
	return nil
}

// hangUp simulates the relay closing the connection.
func (c *fakeChannel) hangUp() { c.once.Do(func() { close(c.msgs) }) }

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) endRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.sent {
		if m.EndRequest != nil {
			return true
		}
	}
	return false
}

type dialRecord struct {
	interviewID string
	block       *int32
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    []dialRecord
	channels []*fakeChannel
	err      error
}

func (d *fakeDialer) Dial(_ context.Context, interviewID string, block *int32) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, dialRecord{interviewID: interviewID, block: block})
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[i]
}

type fakeMic struct {
	mu      sync.Mutex
	running bool
	muted   bool
	starts  int
}

func (m *fakeMic) Start(context.Context, func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.starts++
	return nil
}

func (m *fakeMic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

func (m *fakeMic) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
}

func (m *fakeMic) isMuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

type fakePlayer struct {
	mu      sync.Mutex
	playing bool
	queued  int
	clears  int
}

func (p *fakePlayer) Enqueue(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued += len(pcm)
	p.playing = true
}

func (p *fakePlayer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.clears++
}

func (p *fakePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) clearCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clears
}

type harness struct {
	driver *Driver
	dialer *fakeDialer
	mic    *fakeMic
	player *fakePlayer
	done   chan struct{}
	snap   session.Snapshot
	err    error
}

func start(t *testing.T, cfg Config, dialer *fakeDialer) *harness {
	t.Helper()
	if cfg.InterviewID == "" {
		cfg.InterviewID = "iv-1"
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	h := &harness{dialer: dialer, mic: &fakeMic{}, player: &fakePlayer{}, done: make(chan struct{})}
	h.driver = NewDriver(cfg, dialer, h.mic, h.player)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	go func() {
		defer close(h.done)
		h.snap, h.err = h.driver.Run(ctx)
	}()
	return h
}

func (h *harness) wait(t *testing.T) session.Snapshot {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not finish")
	}
	require.NoError(t, h.err)
	return h.snap
}

func (h *harness) waitState(t *testing.T, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.driver.Snapshot().State.Name() == name
	}, 2*time.Second, 5*time.Millisecond, "expected state %s", name)
}

func TestDriverRunsAllBlocks(t *testing.T) {
	dialer := &fakeDialer{}
	h := start(t, Config{Session: session.Context{TotalBlocks: 2}}, dialer)

	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), *dialer.dials[0].block)
	first := dialer.channel(0)
	require.Eventually(t, func() bool { return h.driver.Snapshot().Connection == session.ConnLive }, time.Second, 5*time.Millisecond)

	first.msgs <- protocol.NewTranscriptMessage(protocol.SpeakerAI, "Tell me about yourself.", true)
	h.driver.Post(session.UserClickedNext{})
	h.waitState(t, "BLOCK_COMPLETE_SCREEN")
	require.Eventually(t, first.endRequested, time.Second, 5*time.Millisecond)
	assert.False(t, first.isClosed(), "ending channel stays open for final transcripts")

	// the relay confirms the block; this must not end the interview
	first.msgs <- protocol.NewSessionEndedMessage(protocol.EndReasonUserInitiated)
	first.hangUp()

	h.driver.Post(session.UserClickedContinue{})
	require.Eventually(t, func() bool { return dialer.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), *dialer.dials[1].block)
	h.waitState(t, "ANSWERING")

	h.driver.Post(session.UserClickedNext{})
	h.waitState(t, "BLOCK_COMPLETE_SCREEN")
	h.driver.Post(session.UserClickedContinue{})

	snap := h.wait(t)
	assert.True(t, snap.Done())
	assert.Empty(t, snap.Err)
	assert.Equal(t, 1, snap.Transcript.Len())
	assert.True(t, dialer.channel(1).isClosed())
}

func TestDriverServerEndsSession(t *testing.T) {
	dialer := &fakeDialer{}
	h := start(t, Config{Session: session.Context{TotalBlocks: 3}}, dialer)

	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)
	ch := dialer.channel(0)
	ch.msgs <- protocol.NewSessionEndedMessage(protocol.EndReasonModelEnded)

	snap := h.wait(t)
	assert.True(t, snap.Done())
	assert.Empty(t, snap.Err)
	assert.True(t, ch.isClosed())
}

func TestDriverUnexpectedCloseIsConnectionError(t *testing.T) {
	dialer := &fakeDialer{}
	h := start(t, Config{Session: session.Context{TotalBlocks: 2}}, dialer)

	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)
	dialer.channel(0).hangUp()

	snap := h.wait(t)
	assert.True(t, snap.Done())
	assert.Equal(t, session.ConnError, snap.Connection)
	assert.Contains(t, snap.Err, "connection lost")
}

func TestDriverErrorResponse(t *testing.T) {
	dialer := &fakeDialer{}
	h := start(t, Config{Session: session.Context{TotalBlocks: 2}}, dialer)

	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)
	dialer.channel(0).msgs <- protocol.NewErrorMessage(502, "model unavailable")

	snap := h.wait(t)
	assert.Contains(t, snap.Err, "model unavailable")
	assert.Contains(t, snap.Err, "502")
}

func TestDriverDialFailure(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	h := start(t, Config{Session: session.Context{TotalBlocks: 2}}, dialer)

	snap := h.wait(t)
	assert.True(t, snap.Done())
	assert.Contains(t, snap.Err, "connection refused")
}

func TestDriverLegacyInterviewDialsWithoutBlock(t *testing.T) {
	dialer := &fakeDialer{}
	h := start(t, Config{}, dialer)

	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, dialer.dials[0].block)

	h.driver.Post(session.UserClickedNext{})
	h.waitState(t, "BLOCK_COMPLETE_SCREEN")
	h.driver.Post(session.UserClickedContinue{})
	assert.True(t, h.wait(t).Done())
}

func TestDriverResumesAtBlock(t *testing.T) {
	dialer := &fakeDialer{}
	idx := 2
	h := start(t, Config{Session: session.Context{TotalBlocks: 3}, StartBlockIndex: &idx}, dialer)

	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), *dialer.dials[0].block)

	h.driver.Post(session.UserClickedNext{})
	h.waitState(t, "BLOCK_COMPLETE_SCREEN")
	h.driver.Post(session.UserClickedContinue{})
	assert.True(t, h.wait(t).Done())
}

func TestDriverBargeInClearsPlayer(t *testing.T) {
	dialer := &fakeDialer{}
	h := start(t, Config{Session: session.Context{TotalBlocks: 1}}, dialer)

	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)
	ch := dialer.channel(0)

	ch.msgs <- protocol.NewAudioResponseMessage(make([]byte, 480))
	require.Eventually(t, h.player.IsPlaying, time.Second, 5*time.Millisecond)

	ch.msgs <- protocol.NewTranscriptMessage(protocol.SpeakerUser, "actually", false)
	require.Eventually(t, func() bool { return h.player.clearCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.player.IsPlaying())

	ch.msgs <- protocol.NewSessionEndedMessage(protocol.EndReasonModelEnded)
	h.wait(t)
}

func TestDriverAnswerTimeoutMutesMic(t *testing.T) {
	dialer := &fakeDialer{}
	h := start(t, Config{Session: session.Context{TotalBlocks: 1, AnswerTimeLimit: 50 * time.Millisecond}}, dialer)

	h.waitState(t, "ANSWER_TIMEOUT_PAUSE")
	assert.True(t, h.mic.isMuted())

	dialer.channel(0).msgs <- protocol.NewSessionEndedMessage(protocol.EndReasonTimeout)
	h.wait(t)
}

func TestDriverSkipsDialWhenLatchHeld(t *testing.T) {
	l := latch.NewMemory(time.Minute)
	held, err := l.Acquire(context.Background(), latch.Key("iv-1", protocol.BlockNumber(1)))
	require.NoError(t, err)
	require.True(t, held)

	dialer := &fakeDialer{}
	h := start(t, Config{Session: session.Context{TotalBlocks: 2}, Latch: l}, dialer)

	h.waitState(t, "ANSWERING")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, dialer.count())

	h.driver.Post(session.InterviewEnded{})
	h.wait(t)
}

func TestDriverObserversSeeEveryStep(t *testing.T) {
	dialer := &fakeDialer{}
	h := &harness{dialer: dialer, mic: &fakeMic{}, player: &fakePlayer{}, done: make(chan struct{})}
	h.driver = NewDriver(Config{InterviewID: "iv-1", Session: session.Context{TotalBlocks: 1}}, dialer, h.mic, h.player)

	var mu sync.Mutex
	var states []session.ConnectionState
	h.driver.OnUpdate(func(u Update) {
		if e, ok := u.Event.(session.ConnectionStateChanged); ok {
			mu.Lock()
			states = append(states, e.State)
			mu.Unlock()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		defer close(h.done)
		h.snap, h.err = h.driver.Run(ctx)
	}()

	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)
	h.driver.Post(session.UserClickedNext{})
	h.waitState(t, "BLOCK_COMPLETE_SCREEN")
	h.driver.Post(session.UserClickedContinue{})
	h.wait(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []session.ConnectionState{session.ConnConnecting, session.ConnLive, session.ConnEnding}, states)
}

func TestDriverReconnectedBlockKeepsTicking(t *testing.T) {
	dialer := &fakeDialer{}
	h := start(t, Config{Session: session.Context{TotalBlocks: 2, AnswerTimeLimit: 200 * time.Millisecond}}, dialer)

	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)
	h.driver.Post(session.UserClickedNext{})
	h.waitState(t, "BLOCK_COMPLETE_SCREEN")
	dialer.channel(0).hangUp()

	h.driver.Post(session.UserClickedContinue{})
	h.waitState(t, "ANSWERING")
	assert.Equal(t, int32(2), *dialer.dials[1].block)

	// the reconnected block runs its answer timer on the channel already dialed
	h.waitState(t, "ANSWER_TIMEOUT_PAUSE")
	assert.True(t, h.mic.isMuted())
	assert.Equal(t, 2, dialer.count())

	dialer.channel(1).msgs <- protocol.NewSessionEndedMessage(protocol.EndReasonTimeout)
	assert.True(t, h.wait(t).Done())
}

func TestDriverReconnectFailureEndsInterview(t *testing.T) {
	dialer := &fakeDialer{}
	h := start(t, Config{Session: session.Context{TotalBlocks: 2}}, dialer)

	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)
	h.driver.Post(session.UserClickedNext{})
	h.waitState(t, "BLOCK_COMPLETE_SCREEN")

	dialer.mu.Lock()
	dialer.err = errors.New("worker unavailable")
	dialer.mu.Unlock()
	h.driver.Post(session.UserClickedContinue{})

	snap := h.wait(t)
	assert.True(t, snap.Done())
	assert.Contains(t, snap.Err, "worker unavailable")
	assert.Equal(t, 2, dialer.count())
}
