package singleton

import "reflect"

type Stats struct {
	Type          string       `json:"type"`
	Key           reflect.Type `json:"-"`
	Lifetime      Lifetime     `json:"lifetime"`
	Registered    bool         `json:"registered"`
	Live          bool         `json:"live"`
	Refs          int64        `json:"refs"`
	Generation    uint64       `json:"generation"`
	Retired       bool         `json:"retired"`
	Constructions int64        `json:"constructions"`
	Failures      int64        `json:"failures"`
	Disposals     int64        `json:"disposals"`
	Reentries     int64        `json:"reentries"`
	LockWaits     int64        `json:"lock_waits"`
	LockTimeouts  int64        `json:"lock_timeouts"`
}

func (s *Slot) Stats() Stats {
	st := Stats{
		Type:          s.name,
		Key:           s.key,
		Lifetime:      s.config().Lifetime,
		Registered:    s.descriptor() != nil,
		Generation:    s.generation.Load(),
		Retired:       s.retired.Load(),
		Constructions: s.stats.constructions.Load(),
		Failures:      s.stats.failures.Load(),
		Disposals:     s.stats.disposals.Load(),
		Reentries:     s.stats.reentries.Load(),
		LockWaits:     s.stats.lockWaits.Load(),
		LockTimeouts:  s.stats.lockTimeouts.Load(),
	}

	if cl := s.current.Load(); cl != nil {
		if n := cl.refs.Load(); n > 0 {
			st.Live = true
			st.Refs = n
		}
	}
	return st
}
