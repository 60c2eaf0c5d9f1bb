package dialog

import "sync"

// dialogEntry is the common surface Store needs from either a UAC or UAS session.
type dialogEntry interface {
	dialogID() string
}

// Store indexes live dialogs by Call-ID and both tag orderings, since a UAC
// computes a dialog's ID as (Call-ID, local-tag=From-tag, remote-tag=To-tag)
// while its peer's UAS computes the same dialog as (Call-ID, To-tag, From-tag).
// Keeping both orderings lets ReadBye/ReadAck match regardless of which role
// originally stored the entry.
type Store[T dialogEntry] struct {
	mu    sync.RWMutex
	byTag map[string]T
}

// NewStore creates an empty dialog store.
func NewStore[T dialogEntry]() *Store[T] {
	return &Store[T]{byTag: make(map[string]T)}
}

// Put registers a session under both tag orderings of callID/tagA/tagB.
func (s *Store[T]) Put(callID, tagA, tagB string, entry T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTag[dialogKey(callID, tagA, tagB)] = entry
	s.byTag[dialogKey(callID, tagB, tagA)] = entry
}

// Get looks up a session by (callID, tagA, tagB), trying the reverse tag
// ordering too, per spec's "UA-level maps" dual lookup.
func (s *Store[T]) Get(callID, tagA, tagB string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.byTag[dialogKey(callID, tagA, tagB)]; ok {
		return v, true
	}
	v, ok := s.byTag[dialogKey(callID, tagB, tagA)]
	return v, ok
}

// Delete removes a session from both tag orderings.
func (s *Store[T]) Delete(callID, tagA, tagB string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTag, dialogKey(callID, tagA, tagB))
	delete(s.byTag, dialogKey(callID, tagB, tagA))
}

// Len returns the number of distinct sessions stored (not index entries).
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.byTag))
	for _, v := range s.byTag {
		seen[v.dialogID()] = struct{}{}
	}
	return len(seen)
}

func dialogKey(callID, tagA, tagB string) string {
	return callID + "__" + tagA + "__" + tagB
}
