package realtime

import (
	"sync"

	"github.com/freshy/clanwars/ledger"
)

// Message is one published event.
type Message struct {
	Event   ledger.Event `json:"event"`
	Subject string       `json:"subject"`
	Payload any          `json:"payload"`
}

// Recorder is a ledger.Notifier that keeps every event in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

var _ ledger.Notifier = (*Recorder)(nil)

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(event ledger.Event, subjectID string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Event: event, Subject: subjectID, Payload: payload})
}

// Messages returns a copy of everything emitted so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Events returns the messages with the given event name.
func (r *Recorder) Events(event ledger.Event) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message with the given event name.
func (r *Recorder) Last(event ledger.Event) (Message, bool) {
	msgs := r.Events(event)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
