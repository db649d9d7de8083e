package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepwise/voice-interview/internal/protocol"
)

// echoRelay answers each AudioChunk with a USER transcript of its length and an
// EndRequest with SessionEnded followed by a normal close.
func echoRelay(t *testing.T, seen chan<- *http.Request) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen <- r
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.DecodeClientMessage(data)
			if err != nil {
				continue
			}
			var reply *protocol.ServerMessage
			switch {
			case msg.AudioChunk != nil:
				reply = protocol.NewTranscriptMessage(protocol.SpeakerUser, strings.Repeat("a", len(msg.AudioChunk.AudioContent)), false)
			case msg.EndRequest != nil:
				reply = protocol.NewSessionEndedMessage(protocol.EndReasonUserInitiated)
			}
			out, _ := reply.MarshalWire()
			if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
				return
			}
			if msg.EndRequest != nil {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSDialerBuildsURL(t *testing.T) {
	seen := make(chan *http.Request, 1)
	srv := echoRelay(t, seen)
	defer srv.Close()

	d := &WSDialer{BaseURL: wsURL(srv), Token: "tok"}
	ch, err := d.Dial(context.Background(), "iv-9", protocol.BlockNumber(2))
	require.NoError(t, err)
	defer ch.Close()

	r := <-seen
	assert.Equal(t, "/iv-9", r.URL.Path)
	assert.Equal(t, "tok", r.URL.Query().Get("token"))
	assert.Equal(t, "2", r.URL.Query().Get("block"))
}

func TestWSChannelRoundTrip(t *testing.T) {
	srv := echoRelay(t, nil)
	defer srv.Close()

	d := &WSDialer{BaseURL: wsURL(srv), Token: "tok"}
	ch, err := d.Dial(context.Background(), "iv-1", nil)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send(protocol.NewAudioChunkMessage(make([]byte, 4))))
	msg := <-ch.Messages()
	require.NotNil(t, msg.TranscriptUpdate)
	assert.Equal(t, "aaaa", msg.TranscriptUpdate.Text)

	require.NoError(t, ch.Send(protocol.NewEndRequestMessage()))
	msg = <-ch.Messages()
	require.NotNil(t, msg.SessionEnded)
	assert.Equal(t, protocol.EndReasonUserInitiated, msg.SessionEnded.Reason)

	_, open := <-ch.Messages()
	assert.False(t, open)
	assert.NoError(t, ch.Err(), "normal close is not an error")
}

func TestWSChannelSendAfterClose(t *testing.T) {
	srv := echoRelay(t, nil)
	defer srv.Close()

	d := &WSDialer{BaseURL: wsURL(srv), Token: "tok"}
	ch, err := d.Dial(context.Background(), "iv-1", nil)
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(protocol.NewEndRequestMessage()), ErrChannelClosed)
}

func TestWSDialerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	d := &WSDialer{BaseURL: wsURL(srv), Token: "tok"}
	_, err := d.Dial(context.Background(), "iv-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
