package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prepwise/voice-interview/internal/protocol"
)

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("client: channel closed")

// Channel is one duplex connection to the relay for one block.
type Channel interface {
	Send(msg *protocol.ClientMessage) error
	// Messages is closed when the connection ends.
	Messages() <-chan *protocol.ServerMessage
	// Err reports why Messages closed. It is nil for a normal close.
	Err() error
	Close() error
}

// ChannelDialer opens channels.
type ChannelDialer interface {
	Dial(ctx context.Context, interviewID string, block *int32) (Channel, error)
}

// WSDialer dials the relay over WebSocket.
type WSDialer struct {
	// BaseURL is the worker's ws(s) URL, e.g. wss://worker.example.com.
	BaseURL string
	Token   string
	Dialer  *websocket.Dialer
}

func (d *WSDialer) Dial(ctx context.Context, interviewID string, block *int32) (Channel, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse worker url: %w", err)
	}
	u.Path = path.Join("/", u.Path, interviewID)
	q := u.Query()
	q.Set("token", d.Token)
	if block != nil {
		q.Set("block", strconv.Itoa(int(*block)))
	}
	u.RawQuery = q.Encode()

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return NewWSChannel(conn), nil
}

type wsChannel struct {
	conn *websocket.Conn
	msgs chan *protocol.ServerMessage

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}

	errMu sync.Mutex
	err   error
}

// NewWSChannel wraps an open connection and starts reading from it.
func NewWSChannel(conn *websocket.Conn) Channel {
	c := &wsChannel{
		conn:   conn,
		msgs:   make(chan *protocol.ServerMessage, 64),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *wsChannel) readLoop() {
	defer close(c.msgs)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
				c.setErr(err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil || msg.Empty() {
			continue
		}
		select {
		case c.msgs <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *wsChannel) Send(msg *protocol.ClientMessage) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	data, err := msg.MarshalWire()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsChannel) Messages() <-chan *protocol.ServerMessage { return c.msgs }

func (c *wsChannel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsChannel) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}

func (c *wsChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
