package engine

import (
	"sync/atomic"

	"github.com/pkarolyi/coachvox/pkg/recog"
)

// lease is the engine's exclusive hold on one recognition session. The
// pump goroutine forwards the session's events into the engine loop tagged
// with the epoch the session was started under; stale events are discarded
// by the loop on epoch mismatch.
//
// stop detaches delivery before closing the underlying session, so no event
// belonging to this session is delivered after stop returns (the underlying
// recognizer is not guaranteed to honor close atomically).
type lease struct {
	session  recog.Session
	epoch    uint64
	detached atomic.Bool
}

func newLease(session recog.Session, epoch uint64, post func(any)) *lease {
	l := &lease{session: session, epoch: epoch}
	go func() {
		for ev := range session.Events() {
			if l.detached.Load() {
				continue // drain without delivering
			}
			post(evRecog{epoch: epoch, ev: ev})
		}
	}()
	return l
}

// stop detaches event delivery, then closes the session. Idempotent because
// the session's Close is.
func (l *lease) stop() {
	l.detached.Store(true)
	_ = l.session.Close()
}
