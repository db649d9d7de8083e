// Package client drives one candidate's interview: it feeds channel, timer and
// user events through the session reducer and executes the commands it returns
// against the relay channel, the microphone and the player.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepwise/voice-interview/internal/latch"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/session"
)

const (
	DefaultTickInterval  = 250 * time.Millisecond
	DefaultTimerInterval = time.Second
)

// Microphone captures 16 kHz candidate audio. audio.WavSource implements it.
type Microphone interface {
	Start(ctx context.Context, deliver func(pcm []byte)) error
	Stop()
	SetMuted(muted bool)
}

// Player plays interviewer audio. audio.BufferedPlayer implements it.
type Player interface {
	Enqueue(pcm []byte)
	Clear()
	IsPlaying() bool
}

// Config configures a Driver.
type Config struct {
	InterviewID string
	Session     session.Context
	// StartBlockIndex resumes the interview at a 0-based block.
	StartBlockIndex *int
	TickInterval    time.Duration
	TimerInterval   time.Duration
	// Latch guards against dialing the same block twice. Defaults to a process-local latch.
	Latch  latch.Latch
	Logger *zerolog.Logger
}

// Update is published to observers after every reducer step.
type Update struct {
	Event    session.Event
	Previous session.Snapshot
	Snapshot session.Snapshot
	Commands []session.Command
}

type conn struct {
	gen    int
	ch     Channel
	key    string
	block  *int32
	ending bool
}

type inbound struct {
	gen    int
	msg    *protocol.ServerMessage
	closed bool
	err    error
}

// Driver owns the session snapshot. All reducer steps run on the Run goroutine.
type Driver struct {
	cfg    Config
	dialer ChannelDialer
	mic    Microphone
	player Player
	latch  latch.Latch
	logger zerolog.Logger

	events    chan session.Event
	inbound   chan inbound
	stopped   chan struct{}
	observers []func(Update)

	mu   sync.RWMutex
	snap session.Snapshot

	queue       []session.Event
	dispatching bool
	gen         int
	current     *conn
	live        atomic.Pointer[conn]
}

// NewDriver wires a driver. Observers must be added before Run.
func NewDriver(cfg Config, dialer ChannelDialer, mic Microphone, player Player) *Driver {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.TimerInterval <= 0 {
		cfg.TimerInterval = DefaultTimerInterval
	}
	l := cfg.Latch
	if l == nil {
		l = latch.NewMemory(time.Hour)
	}
	logger := observability.SessionLogger(observability.NewCorrelationID(), cfg.InterviewID, nil)
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Driver{
		cfg:     cfg,
		dialer:  dialer,
		mic:     mic,
		player:  player,
		latch:   l,
		logger:  logger.With().Str("component", "client").Logger(),
		events:  make(chan session.Event, 16),
		inbound: make(chan inbound, 64),
		stopped: make(chan struct{}),
		snap:    session.NewSnapshot(cfg.StartBlockIndex),
	}
}

// OnUpdate registers fn to be called after every reducer step.
func (d *Driver) OnUpdate(fn func(Update)) {
	d.observers = append(d.observers, fn)
}

// Post queues a user event such as UserClickedNext. It is dropped once Run has returned.
func (d *Driver) Post(e session.Event) {
	select {
	case d.events <- e:
	case <-d.stopped:
	}
}

// Snapshot returns the latest snapshot.
func (d *Driver) Snapshot() session.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}

// Run starts the interview and blocks until it completes or ctx is done.
func (d *Driver) Run(ctx context.Context) (session.Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(d.stopped)
	defer d.shutdown(ctx)

	tick := time.NewTicker(d.cfg.TickInterval)
	defer tick.Stop()
	timer := time.NewTicker(d.cfg.TimerInterval)
	defer timer.Stop()

	d.dispatch(ctx, session.ConnectionReady{InitialBlockIndex: 0})

	for !d.snap.Done() {
		select {
		case <-ctx.Done():
			return d.Snapshot(), ctx.Err()
		case e := <-d.events:
			d.dispatch(ctx, e)
		case in := <-d.inbound:
			d.handleInbound(ctx, in)
		case <-tick.C:
			d.dispatch(ctx, session.Tick{})
		case <-timer.C:
			d.dispatch(ctx, session.TimerTick{})
		}
	}

	snap := d.Snapshot()
	d.logger.Info().
		Str("error", snap.Err).
		Dur("elapsed", snap.ElapsedTime).
		Int("entries", snap.Transcript.Len()).
		Msg("interview complete")
	return snap, nil
}

// dispatch queues e and, unless a step is already running, drains the queue.
// Commands that raise events therefore see them applied in order.
func (d *Driver) dispatch(ctx context.Context, e session.Event) {
	d.queue = append(d.queue, e)
	if d.dispatching {
		return
	}
	d.dispatching = true
	defer func() { d.dispatching = false }()

	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.step(ctx, next)
	}
}

func (d *Driver) step(ctx context.Context, e session.Event) {
	prev := d.snap
	next, cmds := session.Reduce(prev, e, d.cfg.Session, time.Now())

	d.mu.Lock()
	d.snap = next
	d.mu.Unlock()

	if prev.State.Name() != next.State.Name() {
		d.logger.Info().
			Str("event", session.EventName(e)).
			Str("from", prev.State.Name()).
			Str("to", next.State.Name()).
			Msg("state transition")
	}

	for _, cmd := range cmds {
		d.execute(ctx, cmd)
	}

	u := Update{Event: e, Previous: prev, Snapshot: next, Commands: cmds}
	for _, fn := range d.observers {
		fn(u)
	}
}

func (d *Driver) execute(ctx context.Context, cmd session.Command) {
	d.logger.Debug().Str("command", cmd.String()).Msg("executing command")

	switch cmd.Kind {
	case session.StartConnection:
		block := d.blockParam(cmd.BlockNumber + 1)
		if d.serving(block) {
			return
		}
		d.connect(ctx, block)
	case session.ReconnectForBlock:
		d.closeChannel(ctx)
		if d.connect(ctx, d.blockParam(cmd.BlockNumber)) {
			d.dispatch(ctx, session.ConnectionReady{InitialBlockIndex: cmd.BlockNumber - 1})
		}
	case session.CompleteBlock:
		d.endBlock(ctx)
	case session.MuteMic:
		d.mic.SetMuted(true)
	case session.StopAudio:
		d.mic.Stop()
		d.player.Clear()
	case session.CloseConnection:
		d.closeChannel(ctx)
	case session.StopAIAudio:
		d.player.Clear()
	}
}

// blockParam returns nil for legacy interviews, which have no blocks.
func (d *Driver) blockParam(n int) *int32 {
	if d.cfg.Session.TotalBlocks <= 0 {
		return nil
	}
	return protocol.BlockNumber(int32(n))
}

// serving reports whether the live channel already carries block.
func (d *Driver) serving(block *int32) bool {
	c := d.current
	if c == nil || c.ending {
		return false
	}
	if c.block == nil || block == nil {
		return c.block == nil && block == nil
	}
	return *c.block == *block
}

// connect dials block and reports whether a live channel was established.
func (d *Driver) connect(ctx context.Context, block *int32) bool {
	key := latch.Key(d.cfg.InterviewID, block)
	held, err := d.latch.Acquire(ctx, key)
	if err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("connection latch unavailable")
	} else if !held {
		d.logger.Warn().Str("key", key).Msg("connection already initiated")
		return false
	}

	d.dispatch(ctx, session.ConnectionStateChanged{State: session.ConnConnecting})

	ch, err := d.dialer.Dial(ctx, d.cfg.InterviewID, block)
	if err != nil {
		_ = d.latch.Release(ctx, key)
		d.logger.Error().Err(err).Msg("failed to connect to interview worker")
		d.dispatch(ctx, session.ConnectionError{Err: err.Error()})
		return false
	}

	d.gen++
	c := &conn{gen: d.gen, ch: ch, key: key, block: block}
	d.current = c
	d.live.Store(c)
	go d.pump(ctx, c)

	d.dispatch(ctx, session.ConnectionStateChanged{State: session.ConnLive})
	if err := d.mic.Start(ctx, d.sendAudio); err != nil {
		d.logger.Warn().Err(err).Msg("failed to start microphone")
	}
	d.mic.SetMuted(false)
	return true
}

// endBlock asks the relay to finish the block. The channel stays open until
// the relay closes it so final transcripts still arrive.
func (d *Driver) endBlock(ctx context.Context) {
	d.mic.Stop()

	c := d.current
	if c == nil || c.ending {
		return
	}
	c.ending = true
	d.live.Store(nil)

	if err := c.ch.Send(protocol.NewEndRequestMessage()); err != nil {
		d.logger.Warn().Err(err).Msg("failed to send end request")
		d.closeChannel(ctx)
	}
	d.dispatch(ctx, session.ConnectionStateChanged{State: session.ConnEnding})
}

func (d *Driver) closeChannel(ctx context.Context) {
	c := d.current
	if c == nil {
		return
	}
	d.current = nil
	d.live.Store(nil)
	_ = c.ch.Close()
	_ = d.latch.Release(ctx, c.key)
}

// sendAudio runs on the microphone goroutine. Audio is dropped while no channel is live.
func (d *Driver) sendAudio(pcm []byte) {
	c := d.live.Load()
	if c == nil {
		return
	}
	if err := c.ch.Send(protocol.NewAudioChunkMessage(pcm)); err != nil {
		d.logger.Debug().Err(err).Msg("dropping audio chunk")
	}
}

func (d *Driver) pump(ctx context.Context, c *conn) {
	for msg := range c.ch.Messages() {
		select {
		case d.inbound <- inbound{gen: c.gen, msg: msg}:
		case <-ctx.Done():
			return
		}
	}
	select {
	case d.inbound <- inbound{gen: c.gen, closed: true, err: c.ch.Err()}:
	case <-ctx.Done():
	}
}

func (d *Driver) handleInbound(ctx context.Context, in inbound) {
	c := d.current
	if c == nil || c.gen != in.gen {
		// a channel we already closed
		return
	}

	if in.closed {
		d.current = nil
		d.live.Store(nil)
		_ = d.latch.Release(ctx, c.key)
		if c.ending {
			_ = c.ch.Close()
			return
		}
		msg := "connection lost"
		if in.err != nil {
			msg = fmt.Sprintf("connection lost: %v", in.err)
		}
		d.dispatch(ctx, session.ConnectionError{Err: msg})
		return
	}

	msg := in.msg
	switch {
	case msg.TranscriptUpdate != nil:
		d.dispatch(ctx, session.TranscriptEvent(*msg.TranscriptUpdate))
		d.checkBargeIn(ctx)
	case msg.AudioResponse != nil:
		d.player.Enqueue(msg.AudioResponse.AudioContent)
	case msg.SessionEnded != nil:
		if c.ending {
			d.logger.Debug().Str("reason", msg.SessionEnded.Reason.String()).Msg("block ended")
			return
		}
		d.logger.Info().Str("reason", msg.SessionEnded.Reason.String()).Msg("session ended by server")
		d.dispatch(ctx, session.InterviewEnded{})
	case msg.ErrorResponse != nil:
		if c.ending {
			d.logger.Warn().Int32("code", msg.ErrorResponse.Code).Str("message", msg.ErrorResponse.Message).Msg("error while ending block")
			return
		}
		d.dispatch(ctx, session.ConnectionError{
			Err: fmt.Sprintf("%s (code %d)", msg.ErrorResponse.Message, msg.ErrorResponse.Code),
		})
	}
}

// checkBargeIn silences the interviewer when the candidate starts talking over it.
func (d *Driver) checkBargeIn(ctx context.Context) {
	last, ok := d.snap.Transcript.Last()
	if !ok || last.Speaker != protocol.SpeakerUser || !d.player.IsPlaying() {
		return
	}
	d.logger.Debug().Msg("barge-in, clearing interviewer audio")
	d.execute(ctx, session.Command{Kind: session.StopAIAudio})
}

func (d *Driver) shutdown(ctx context.Context) {
	d.mic.Stop()
	d.closeChannel(context.WithoutCancel(ctx))
}
