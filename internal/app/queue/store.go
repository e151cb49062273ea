package queue

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/cadencefm/cadence/internal/domain/track"
)

// Store owns the ordered queue contents, the shuffle permutation, the play
// index and the repeat mode. All mutation operations are synchronous and
// pure with respect to I/O; index math clamps rather than failing so that
// callers never observe an out-of-range index.
type Store struct {
	mu sync.RWMutex

	items     []track.QueueEntry // Canonical (default) order
	shuffled  []int              // Permutation of items positions; valid while shuffleOn
	shuffleOn bool
	index     int // Position in the effective order, EmptyIndex when empty
	repeat    RepeatMode

	rng *rand.Rand
}

// NewStore creates an empty queue store.
func NewStore() *Store {
	return &Store{
		index: EmptyIndex,
		rng:   rand.New(rand.NewSource(cryptoSeed())),
	}
}

// cryptoSeed derives an RNG seed from crypto/rand, falling back to the clock.
func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err == nil {
		return int64(binary.LittleEndian.Uint64(buf[:]))
	}
	return time.Now().UnixNano()
}

// SetQueue replaces the queue contents wholesale and points the index at
// startIndex (clamped to the valid range). Returns the new current entry.
func (s *Store) SetQueue(tracks []track.Track, startIndex int) *track.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = track.NewQueueEntries(tracks)
	if len(s.items) == 0 {
		s.index = EmptyIndex
		s.shuffled = nil
		return nil
	}

	s.index = clamp(startIndex, 0, len(s.items)-1)
	if s.shuffleOn {
		s.regenerateShuffleLocked(s.index)
	}
	return s.currentLocked()
}

// Clear empties the queue.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.shuffled = nil
	s.index = EmptyIndex
}

// InsertAt inserts tracks relative to the current index. PositionNow places
// them directly after the current track and advances the index to the first
// inserted track (the caller starts playback); PositionNext places them
// after the current track without moving the index; PositionLast appends.
// Returns the current entry after the mutation.
func (s *Store) InsertAt(tracks []track.Track, pos Position) *track.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := track.NewQueueEntries(tracks)
	if len(entries) == 0 {
		return s.currentLocked()
	}

	if len(s.items) == 0 {
		s.items = entries
		s.index = 0
		if s.shuffleOn {
			// Fresh contents: identity permutation keeps insertion order.
			s.shuffled = identityPerm(len(s.items))
		}
		return s.currentLocked()
	}

	switch pos {
	case PositionNow:
		s.insertEffectiveLocked(entries, s.index+1)
		s.index++
	case PositionNext:
		s.insertEffectiveLocked(entries, s.index+1)
	default:
		s.insertEffectiveLocked(entries, len(s.items))
	}
	return s.currentLocked()
}

// InsertAnchored inserts tracks before or after the entry identified by
// anchorUniqueID (drag-and-drop target). An unknown anchor appends.
func (s *Store) InsertAnchored(tracks []track.Track, anchorUniqueID string, after bool) *track.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := track.NewQueueEntries(tracks)
	if len(entries) == 0 {
		return s.currentLocked()
	}
	if len(s.items) == 0 {
		s.items = entries
		s.index = 0
		if s.shuffleOn {
			s.shuffled = identityPerm(len(s.items))
		}
		return s.currentLocked()
	}

	at := s.effectivePosOfLocked(anchorUniqueID)
	if at < 0 {
		at = len(s.items)
	} else if after {
		at++
	}
	if at <= s.index {
		s.index += len(entries)
	}
	s.insertEffectiveLocked(entries, at)
	return s.currentLocked()
}

// insertEffectiveLocked inserts entries at the given position in the
// effective order. With shuffle active the entries are appended to the
// default order (so existing permutation values stay valid) and their
// positions are spliced into the permutation; the pre-existing shuffle
// order is never disturbed.
func (s *Store) insertEffectiveLocked(entries []track.QueueEntry, at int) {
	at = clamp(at, 0, len(s.items))

	if !s.shuffleOn {
		s.items = append(s.items[:at], append(entries, s.items[at:]...)...)
		return
	}

	base := len(s.items)
	s.items = append(s.items, entries...)
	positions := make([]int, len(entries))
	for i := range entries {
		positions[i] = base + i
	}
	s.shuffled = append(s.shuffled[:at], append(positions, s.shuffled[at:]...)...)
}

// RemoveByUniqueID removes the entries with the given unique IDs from both
// orders. If the current track is removed the index advances to the next
// surviving track in effective order, or the empty sentinel. Returns the
// current entry after the mutation.
func (s *Store) RemoveByUniqueID(uniqueIDs []string) *track.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 || len(uniqueIDs) == 0 {
		return s.currentLocked()
	}

	doomed := make(map[string]bool, len(uniqueIDs))
	for _, id := range uniqueIDs {
		doomed[id] = true
	}

	// The surviving entries that precede the current effective position
	// determine the new index: if the current track survives it keeps its
	// logical spot, and if it is removed the next survivor slides into it.
	survivingBefore := 0
	for eff := 0; eff < s.index; eff++ {
		if !doomed[s.entryAtLocked(eff).UniqueID] {
			survivingBefore++
		}
	}

	oldToNew := make(map[int]int, len(s.items))
	kept := make([]track.QueueEntry, 0, len(s.items))
	for pos, e := range s.items {
		if doomed[e.UniqueID] {
			continue
		}
		oldToNew[pos] = len(kept)
		kept = append(kept, e)
	}
	s.items = kept

	if s.shuffleOn {
		newShuffled := make([]int, 0, len(kept))
		for _, pos := range s.shuffled {
			if np, ok := oldToNew[pos]; ok {
				newShuffled = append(newShuffled, np)
			}
		}
		s.shuffled = newShuffled
	}

	if len(s.items) == 0 {
		s.index = EmptyIndex
		return nil
	}
	s.index = clamp(survivingBefore, 0, len(s.items)-1)
	return s.currentLocked()
}

// MoveTo reorders the entries with the given unique IDs so they land as a
// contiguous group on the given edge of the target row, preserving their
// relative order. The index is recomputed so it keeps pointing at the same
// logical track. A target inside the moved group is a no-op.
func (s *Store) MoveTo(sourceUniqueIDs []string, edge Edge, targetUniqueID string) *track.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 || len(sourceUniqueIDs) == 0 {
		return s.currentLocked()
	}
	moving := make(map[string]bool, len(sourceUniqueIDs))
	for _, id := range sourceUniqueIDs {
		moving[id] = true
	}
	if moving[targetUniqueID] {
		return s.currentLocked()
	}

	var currentID string
	if cur := s.currentLocked(); cur != nil {
		currentID = cur.UniqueID
	}

	order := s.effectiveOrderLocked()
	moved := lo.Filter(order, func(e track.QueueEntry, _ int) bool { return moving[e.UniqueID] })
	rest := lo.Filter(order, func(e track.QueueEntry, _ int) bool { return !moving[e.UniqueID] })

	at := len(rest)
	for i, e := range rest {
		if e.UniqueID == targetUniqueID {
			at = i
			if edge == EdgeBottom {
				at++
			}
			break
		}
	}

	reordered := make([]track.QueueEntry, 0, len(order))
	reordered = append(reordered, rest[:at]...)
	reordered = append(reordered, moved...)
	reordered = append(reordered, rest[at:]...)

	if s.shuffleOn {
		// Default order is untouched; only the permutation is rewritten.
		posOf := make(map[string]int, len(s.items))
		for pos, e := range s.items {
			posOf[e.UniqueID] = pos
		}
		s.shuffled = lo.Map(reordered, func(e track.QueueEntry, _ int) int { return posOf[e.UniqueID] })
	} else {
		s.items = reordered
	}

	if currentID != "" {
		s.index = s.effectivePosOfLocked(currentID)
	}
	return s.currentLocked()
}

// ToggleShuffle enables or disables shuffle. Enabling generates a fresh
// permutation with the currently playing track pinned at the current
// cursor, so playback does not jump. Disabling discards the permutation and
// recomputes the index as the current track's position in default order.
func (s *Store) ToggleShuffle(enabled bool) *track.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if enabled == s.shuffleOn {
		return s.currentLocked()
	}

	if enabled {
		var pin int
		if s.index != EmptyIndex {
			pin = s.index // Shuffle off: effective position equals items position
		}
		s.shuffleOn = true
		s.regenerateShuffleLocked(pin)
		return s.currentLocked()
	}

	if s.index != EmptyIndex && len(s.shuffled) > 0 {
		s.index = s.shuffled[clamp(s.index, 0, len(s.shuffled)-1)]
	}
	s.shuffleOn = false
	s.shuffled = nil
	return s.currentLocked()
}

// regenerateShuffleLocked builds a random permutation of the items
// positions with the entry at items position pin placed at the shuffle
// cursor equal to the current index.
func (s *Store) regenerateShuffleLocked(pin int) {
	n := len(s.items)
	if n == 0 {
		s.shuffled = nil
		s.index = EmptyIndex
		return
	}
	perm := s.rng.Perm(n)
	s.index = clamp(s.index, 0, n-1)
	pin = clamp(pin, 0, n-1)
	for j, p := range perm {
		if p == pin {
			perm[j], perm[s.index] = perm[s.index], perm[j]
			break
		}
	}
	s.shuffled = perm
}

// SetRepeat sets the repeat mode.
func (s *Store) SetRepeat(mode RepeatMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeat = mode
}

// Repeat returns the repeat mode.
func (s *Store) Repeat() RepeatMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repeat
}

// ShuffleEnabled reports whether shuffle is active.
func (s *Store) ShuffleEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shuffleOn
}

// Next advances the index in effective order honoring the repeat mode and
// returns the new current entry. At the end of the queue with repeat off it
// returns nil (end-of-queue sentinel) and leaves the index in place.
func (s *Store) Next() *track.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := s.nextIndexLocked()
	if !ok {
		return nil
	}
	s.index = next
	return s.currentLocked()
}

// PeekNext returns the entry Next would move to, without mutating state.
func (s *Store) PeekNext() *track.QueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next, ok := s.nextIndexLocked()
	if !ok {
		return nil
	}
	return s.entryCopyLocked(next)
}

func (s *Store) nextIndexLocked() (int, bool) {
	if len(s.items) == 0 || s.index == EmptyIndex {
		return 0, false
	}
	switch s.repeat {
	case RepeatOne:
		return s.index, true
	default:
		if s.index+1 < len(s.items) {
			return s.index + 1, true
		}
		if s.repeat == RepeatAll {
			return 0, true
		}
		return 0, false
	}
}

// Previous moves the index backwards honoring the repeat mode. With repeat
// off at the first track the index clamps in place.
func (s *Store) Previous() *track.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 || s.index == EmptyIndex {
		return nil
	}
	switch s.repeat {
	case RepeatOne:
		// Index unchanged
	default:
		if s.index > 0 {
			s.index--
		} else if s.repeat == RepeatAll {
			s.index = len(s.items) - 1
		}
	}
	return s.currentLocked()
}

// PatchByEntityID applies a field patch to every entry addressed by the
// entity ID, without touching order or index. Returns the number of entries
// patched.
func (s *Store) PatchByEntityID(id string, itemType track.ItemType, patch track.Patch) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	patched := 0
	for i := range s.items {
		if s.items[i].Matches(id, itemType) {
			s.items[i].Apply(patch)
			patched++
		}
	}
	return patched
}

// Current returns a copy of the current entry, or nil if the queue is empty.
func (s *Store) Current() *track.QueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLocked()
}

// Index returns the current play index (EmptyIndex when empty).
func (s *Store) Index() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// Len returns the number of queued entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// RemainingCount returns the number of entries after the current one in
// effective order. Used by the auto-DJ threshold check.
func (s *Store) RemainingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.items) == 0 || s.index == EmptyIndex {
		return 0
	}
	return len(s.items) - s.index - 1
}

// Entries returns a snapshot of the queue in effective order.
func (s *Store) Entries() []track.QueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effectiveOrderLocked()
}

// TrackIDSet returns the set of track IDs currently queued. Used for
// duplicate avoidance when the auto-DJ appends continuation tracks.
func (s *Store) TrackIDSet() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]bool, len(s.items))
	for _, e := range s.items {
		ids[e.ID] = true
	}
	return ids
}

// ShufflePermutation returns a copy of the active permutation, or nil when
// shuffle is off.
func (s *Store) ShufflePermutation() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.shuffleOn {
		return nil
	}
	out := make([]int, len(s.shuffled))
	copy(out, s.shuffled)
	return out
}

func (s *Store) effectiveOrderLocked() []track.QueueEntry {
	out := make([]track.QueueEntry, len(s.items))
	for eff := range s.items {
		out[eff] = s.entryAtLocked(eff)
	}
	return out
}

// entryAtLocked resolves an effective position to the underlying entry.
func (s *Store) entryAtLocked(eff int) track.QueueEntry {
	if s.shuffleOn {
		return s.items[s.shuffled[eff]]
	}
	return s.items[eff]
}

func (s *Store) entryCopyLocked(eff int) *track.QueueEntry {
	e := s.entryAtLocked(clamp(eff, 0, len(s.items)-1))
	return &e
}

func (s *Store) currentLocked() *track.QueueEntry {
	if len(s.items) == 0 || s.index == EmptyIndex {
		return nil
	}
	return s.entryCopyLocked(clamp(s.index, 0, len(s.items)-1))
}

// effectivePosOfLocked returns the effective position of the entry with the
// given unique ID, or -1.
func (s *Store) effectivePosOfLocked(uniqueID string) int {
	for eff := range s.items {
		if s.entryAtLocked(eff).UniqueID == uniqueID {
			return eff
		}
	}
	return -1
}

func identityPerm(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	return perm
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
