// Package notify carries user-facing notices from the reconcilers to the
// presentation layer.
package notify

import (
	"sync"
	"time"
)

// Kind of a notice
type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
	Info    Kind = "info"
)

// Notice is a single message shown to the user
type Notice struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Sink receives notices. Notify must not block.
type Sink interface {
	Notify(kind Kind, message string)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(kind Kind, message string)

func (f SinkFunc) Notify(kind Kind, message string) { f(kind, message) }

// Discard drops every notice
var Discard Sink = SinkFunc(func(Kind, string) {})

// DefaultInboxSize bounds the notices kept for one shopper
const DefaultInboxSize = 32

// Inbox buffers notices until they are drained. When full, the oldest notice
// is dropped.
type Inbox struct {
	mu      sync.Mutex
	size    int
	notices []Notice
	now     func() time.Time
}

// NewInbox returns an inbox holding at most size notices
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{size: size, now: time.Now}
}

func (in *Inbox) Notify(kind Kind, message string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.notices) == in.size {
		in.notices = in.notices[1:]
	}
	in.notices = append(in.notices, Notice{Kind: kind, Message: message, At: in.now()})
}

// Drain returns the buffered notices oldest first and empties the inbox.
// It never returns nil.
func (in *Inbox) Drain() []Notice {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.notices
	in.notices = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}

// Len reports the number of buffered notices
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.notices)
}
