package serial

import (
	"bytes"
	"sync"
)

// offerResult describes what happened to a frame handed to the slot.
type offerResult int

const (
	offerDuplicate  offerResult = iota // identical to the held frame
	offerStored                        // stored, nobody to notify
	offerSuperseded                    // stored while a notification is in flight
	offerNotify                        // stored and the throttle armed
)

// latestSlot holds the newest distinct frame together with the throttle
// that limits undelivered notifications to one. Both live under mu so that
// compare, store and arm happen as a single step.
type latestSlot struct {
	mu    sync.Mutex
	frame []byte
	busy  bool
}

// offer compares frame with the held one and stores it when it differs.
// The throttle is armed only if notify is set and it was idle; the caller
// must deliver exactly one notification when offerNotify is returned.
// Ownership of frame passes to the slot.
func (s *latestSlot) offer(frame []byte, notify bool) offerResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bytes.Equal(s.frame, frame) {
		return offerDuplicate
	}
	s.frame = frame

	switch {
	case !notify:
		return offerStored
	case s.busy:
		return offerSuperseded
	}
	s.busy = true
	return offerNotify
}

// latest returns a private copy of the held frame.
func (s *latestSlot) latest() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.frame)
}

// release returns the throttle to idle.
func (s *latestSlot) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *latestSlot) inFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// reset empties the slot and idles the throttle for a new session.
func (s *latestSlot) reset() {
	s.mu.Lock()
	s.frame = nil
	s.busy = false
	s.mu.Unlock()
}
