package singular

import (
	"time"
)

type EventKind string

const (
	EventConstructed EventKind = "constructed"
	EventFailed      EventKind = "failed"
	EventDisposed    EventKind = "disposed"
	EventReentered   EventKind = "reentered"
)

// Event describes one step in the life of a singleton generation.
type Event struct {
	Kind       EventKind     `json:"kind"`
	Type       string        `json:"type"`
	Generation uint64        `json:"generation"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

// Observer receives lifecycle events. Observe is never called while a
// construction lock is held.
type Observer interface {
	Observe(evt Event)
}

type ObserverFunc func(evt Event)

func (fn ObserverFunc) Observe(evt Event) {
	fn(evt)
}

type multiObserver []Observer

func (obs multiObserver) Observe(evt Event) {
	for _, o := range obs {
		o.Observe(evt)
	}
}

// Observers fans an event out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	var list multiObserver
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}

	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	default:
		return list
	}
}
