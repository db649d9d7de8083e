// Package transcript reconciles partial and final speech results into an
// ordered list of utterances.
//
// Buffer is a value type: Apply and Flush return a new Buffer and never mutate
// the receiver's backing arrays, so a Buffer can live inside a pure reducer's
// snapshot as well as behind the relay's accumulator.
package transcript

import (
	"time"

	"github.com/prepwise/voice-interview/internal/protocol"
)

// Entry is one utterance.
type Entry = protocol.TranscriptEntry

type pending struct {
	text string
	at   time.Time
}

// Buffer holds committed entries plus one pending partial per speaker.
type Buffer struct {
	committed []Entry
	user      pending
	ai        pending
}

// Apply merges one update.
// A partial replaces the speaker's pending text; an empty partial just clears it.
// A final is appended to the committed list and clears the speaker's pending text;
// an empty final commits nothing.
func (b Buffer) Apply(u protocol.TranscriptUpdate, now time.Time) Buffer {
	if u.Speaker != protocol.SpeakerUser && u.Speaker != protocol.SpeakerAI {
		return b
	}

	if !u.IsFinal {
		return b.withPending(u.Speaker, pending{text: u.Text, at: now})
	}

	b = b.withPending(u.Speaker, pending{})
	if u.Text == "" {
		return b
	}
	return b.commit(Entry{Speaker: u.Speaker, Text: u.Text, Timestamp: now, IsFinal: true})
}

// Flush commits any non-empty pending text (USER first) as final entries.
// Used when a session ends before the recogniser finalised.
func (b Buffer) Flush(now time.Time) Buffer {
	for _, sp := range []protocol.Speaker{protocol.SpeakerUser, protocol.SpeakerAI} {
		p := b.pendingFor(sp)
		if p.text == "" {
			continue
		}
		at := p.at
		if at.IsZero() {
			at = now
		}
		b = b.withPending(sp, pending{})
		b = b.commit(Entry{Speaker: sp, Text: p.text, Timestamp: at, IsFinal: true})
	}
	return b
}

// Committed returns a copy of the committed entries.
func (b Buffer) Committed() []Entry {
	out := make([]Entry, len(b.committed))
	copy(out, b.committed)
	return out
}

// Len is the number of committed entries.
func (b Buffer) Len() int { return len(b.committed) }

// Pending returns the speaker's in-progress text.
func (b Buffer) Pending(sp protocol.Speaker) string {
	return b.pendingFor(sp).text
}

// Display is committed ++ pending USER ++ pending AI, pending entries marked non-final.
func (b Buffer) Display() []Entry {
	out := b.Committed()
	for _, sp := range []protocol.Speaker{protocol.SpeakerUser, protocol.SpeakerAI} {
		p := b.pendingFor(sp)
		if p.text == "" {
			continue
		}
		out = append(out, Entry{Speaker: sp, Text: p.text, Timestamp: p.at})
	}
	return out
}

// Last returns the most recently displayed entry.
func (b Buffer) Last() (Entry, bool) {
	d := b.Display()
	if len(d) == 0 {
		return Entry{}, false
	}
	return d[len(d)-1], true
}

// Marshal encodes the committed entries for persistence.
func (b Buffer) Marshal() []byte {
	return protocol.EncodeTranscript(b.committed)
}

func (b Buffer) pendingFor(sp protocol.Speaker) pending {
	if sp == protocol.SpeakerAI {
		return b.ai
	}
	return b.user
}

func (b Buffer) withPending(sp protocol.Speaker, p pending) Buffer {
	if sp == protocol.SpeakerAI {
		b.ai = p
	} else {
		b.user = p
	}
	return b
}

func (b Buffer) commit(e Entry) Buffer {
	n := len(b.committed)
	b.committed = append(b.committed[:n:n], e)
	return b
}
