package session

import "time"

// Observer receives protocol events. Implementations must be cheap and non-blocking.
type Observer interface {
	HandshakeDone(result string)
	VectorDone(size uint32, overflow bool)
	SessionDone(outcome string, d time.Duration)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) HandshakeDone(string)              {}
func (NopObserver) VectorDone(uint32, bool)           {}
func (NopObserver) SessionDone(string, time.Duration) {}
