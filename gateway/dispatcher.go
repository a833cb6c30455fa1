package gateway

import (
	"sync"

	basestation "github.com/lss-lora/basestation"
)

// Observer is notified of every successfully ingested multi-sensor packet.
// This is a direct adaptation of the teacher's LinkMgr firehose: a mutex
// guarded slice of independent, order-unspecified listeners, except here
// it's keyed to one event (a telemetry packet landing in the store) rather
// than a registry of per-program-ID/per-address frame handlers. The
// gateway's dispatch rules are fixed by frame kind and don't need the
// per-program/per-address lookup tables LinkMgr used for SMac's
// multi-protocol NPI stream — so only the firehose concept survives;
// mqttpub.Publisher and alerting.Evaluator are its two observers.
type Observer interface {
	Observe(pkt *basestation.MultiSensorPacket)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(pkt *basestation.MultiSensorPacket)

// Observe calls f(pkt).
func (f ObserverFunc) Observe(pkt *basestation.MultiSensorPacket) { f(pkt) }

// ObserverHandle identifies a previously registered Observer for
// Deregister. Observer values aren't necessarily comparable — an
// ObserverFunc is a func value, and comparing funcs with == panics — so
// the registry hands back an opaque handle instead of keying off the
// Observer itself.
type ObserverHandle uint64

type observerEntry struct {
	handle ObserverHandle
	o      Observer
}

type observerRegistry struct {
	mu        sync.Mutex
	next      ObserverHandle
	observers []observerEntry
}

// Register adds an observer and returns a handle for later Deregister. It
// is safe to call concurrently with dispatch.
func (r *observerRegistry) Register(o Observer) ObserverHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.observers = append(r.observers, observerEntry{handle: h, o: o})
	return h
}

// Deregister removes the observer previously added with the given handle.
func (r *observerRegistry) Deregister(h ObserverHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.observers {
		if cur.handle == h {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

func (r *observerRegistry) notify(pkt *basestation.MultiSensorPacket) {
	r.mu.Lock()
	snapshot := append([]observerEntry(nil), r.observers...)
	r.mu.Unlock()
	for _, e := range snapshot {
		e.o.Observe(pkt)
	}
}
