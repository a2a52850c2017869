// Package fuse defines the health sink that connections report into.
//
// A Fusewire receives events from listeners and connections. It never blocks
// the reporter and decides on its own what the events mean: a connection only
// reports, the sink's policy decides whether the server should degrade or stop
// accepting connections.
package fuse

import (
	"fmt"
	"net"
)

// Fusewire receives health events. Implementations must be safe for
// concurrent use: every connection of a listener reports into the same sink.
type Fusewire interface {
	Event(Event)
}

// Tripper is implemented by sinks that can tell the server core to stop
// serving new connections.
type Tripper interface {
	Tripped() bool
}

// EventKind identifies what happened.
type EventKind int

const (
	// ConnAccepted is reported when a listener hands out a new connection.
	ConnAccepted EventKind = iota

	// StreamFailed is reported when a request stream fails because of the
	// peer or the network. Handler errors are not reported.
	StreamFailed

	// ConnLost is reported when a connection ends with a fatal transport error.
	ConnLost

	// ConfigApplied is reported when a new server configuration was installed.
	ConfigApplied

	// ConfigRejected is reported when a new server configuration could not
	// be built. The previous configuration stays active.
	ConfigRejected
)

var eventKindTexts = map[EventKind]string{
	ConnAccepted:   "conn_accepted",
	StreamFailed:   "stream_failed",
	ConnLost:       "conn_lost",
	ConfigApplied:  "config_applied",
	ConfigRejected: "config_rejected",
}

func (k EventKind) String() string {
	if s, ok := eventKindTexts[k]; ok {
		return s
	}
	return fmt.Sprintf("event_kind(%d)", int(k))
}

// Failure reports whether the event kind counts as a health failure.
func (k EventKind) Failure() bool {
	switch k {
	case StreamFailed, ConnLost, ConfigRejected:
		return true
	default:
		return false
	}
}

// Event is a single health report.
type Event struct {
	Kind EventKind

	// RemoteAddr is the peer address, if the event concerns a connection.
	RemoteAddr net.Addr

	// Err is the cause of a failure event.
	Err error
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

// Nop is a Fusewire that discards every event.
type Nop struct{}

func (Nop) Event(Event) {}

// Func adapts a function to the Fusewire interface.
type Func func(Event)

func (f Func) Event(e Event) {
	f(e)
}
