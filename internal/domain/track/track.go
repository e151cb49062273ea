// Package track provides the Track domain entity.
package track

import (
	"time"

	"github.com/google/uuid"
)

// Track represents one queueable unit as delivered by a media server.
// Immutable after insertion into the queue, except for Favorite and Rating
// which are patched in place when the user acts on a queued track.
type Track struct {
	ID            string        // Server-scoped track ID
	ServerID      string        // ID of the originating server
	Name          string        // Track title
	Album         string        // Album name
	AlbumID       string        // Server-scoped album ID
	Artist        string        // Display artist
	AlbumArtist   string        // Album artist name
	AlbumArtistID string        // Server-scoped album artist ID
	Genre         string        // Primary genre
	Duration      time.Duration // Track duration
	ArtworkURL    string        // Album art URL
	StreamURL     string        // Playable handle, empty until resolved
	Favorite      bool          // User favorite flag
	Rating        int           // User rating (0-5)
	GainTrack     float64       // Replay-gain hint, track scope (dB)
	GainAlbum     float64       // Replay-gain hint, album scope (dB)
	Lossless      bool          // Codec class hint (affects gapless latency padding)
}

// QueueEntry represents one occurrence of a track in the playback queue.
// The same track ID may appear multiple times in a queue; UniqueID
// distinguishes the occurrences.
type QueueEntry struct {
	Track
	UniqueID string // Synthesized per queue insertion
}

// NewQueueEntry wraps a track into a queue entry with a fresh UniqueID.
func NewQueueEntry(t Track) QueueEntry {
	return QueueEntry{
		Track:    t,
		UniqueID: uuid.New().String(),
	}
}

// NewQueueEntries wraps a batch of tracks into queue entries.
func NewQueueEntries(tracks []Track) []QueueEntry {
	entries := make([]QueueEntry, len(tracks))
	for i, t := range tracks {
		entries[i] = NewQueueEntry(t)
	}
	return entries
}

// ItemType identifies which entity a user mutation refers to.
type ItemType int

const (
	ItemSong        ItemType = iota // Mutation targets a single song ID
	ItemAlbum                       // Mutation targets every song of an album
	ItemAlbumArtist                 // Mutation targets every song of an album artist
)

// String returns the string representation of the item type.
func (i ItemType) String() string {
	switch i {
	case ItemSong:
		return "song"
	case ItemAlbum:
		return "album"
	case ItemAlbumArtist:
		return "album_artist"
	default:
		return "unknown"
	}
}

// Patch is a partial update of the user-mutable track fields.
// Nil fields are left untouched.
type Patch struct {
	Favorite *bool
	Rating   *int
}

// Matches reports whether this entry is addressed by the given entity ID
// under the given item type.
func (e *QueueEntry) Matches(id string, itemType ItemType) bool {
	switch itemType {
	case ItemSong:
		return e.ID == id
	case ItemAlbum:
		return e.AlbumID == id
	case ItemAlbumArtist:
		return e.AlbumArtistID == id
	default:
		return false
	}
}

// Apply applies a patch to the user-mutable fields in place.
func (e *QueueEntry) Apply(p Patch) {
	if p.Favorite != nil {
		e.Favorite = *p.Favorite
	}
	if p.Rating != nil {
		e.Rating = *p.Rating
	}
}
