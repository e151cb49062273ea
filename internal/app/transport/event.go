package transport

import (
	"github.com/cadencefm/cadence/internal/app/events"
	"github.com/cadencefm/cadence/internal/app/queue"
	"github.com/cadencefm/cadence/internal/domain/track"
)

// Event types published by the transport.
const (
	TypeSongChange events.Type = "player.song_change"
	TypeStatus     events.Type = "player.status"
	TypeProgress   events.Type = "player.progress"
	TypeVolume     events.Type = "player.volume"
	TypeShuffle    events.Type = "player.shuffle"
	TypeRepeat     events.Type = "player.repeat"
	TypeQueue      events.Type = "player.queue"
	TypeQueueEnded events.Type = "player.queue_ended"
	TypeError      events.Type = "player.error"
	TypeFavorite   events.Type = "user.favorite"
	TypeRating     events.Type = "user.rating"
)

// SongChangeEvent announces that a different queue entry became current.
type SongChangeEvent struct {
	Entry track.QueueEntry
	Index int
}

func (SongChangeEvent) Type() events.Type { return TypeSongChange }

// StatusEvent announces a transport status change.
type StatusEvent struct {
	Status  Status
	Loading bool
	Speed   float64
}

func (StatusEvent) Type() events.Type { return TypeStatus }

// ProgressEvent carries the throttled playhead position.
type ProgressEvent struct {
	Seconds  float64
	Duration float64
}

func (ProgressEvent) Type() events.Type { return TypeProgress }

// VolumeEvent announces a volume or mute change.
type VolumeEvent struct {
	Volume int // 0..100, the stored value even while muted
	Muted  bool
}

func (VolumeEvent) Type() events.Type { return TypeVolume }

// ShuffleEvent announces a shuffle toggle.
type ShuffleEvent struct {
	Enabled bool
}

func (ShuffleEvent) Type() events.Type { return TypeShuffle }

// RepeatEvent announces a repeat mode change.
type RepeatEvent struct {
	Mode queue.RepeatMode
}

func (RepeatEvent) Type() events.Type { return TypeRepeat }

// QueueEvent announces a queue content change (insert, remove, reorder,
// replace).
type QueueEvent struct {
	Length int
	Index  int
}

func (QueueEvent) Type() events.Type { return TypeQueue }

// QueueEndedEvent announces that playback ran off the end of the queue.
type QueueEndedEvent struct{}

func (QueueEndedEvent) Type() events.Type { return TypeQueueEnded }

// ErrorEvent announces a non-fatal playback error, e.g. a track that failed
// to load and was skipped.
type ErrorEvent struct {
	Message string
	Err     error
}

func (ErrorEvent) Type() events.Type { return TypeError }

// FavoriteEvent announces a favorite flag change on an entity.
type FavoriteEvent struct {
	ID       string
	ItemType track.ItemType
	Favorite bool
	Patched  int // Queue entries the change was applied to
}

func (FavoriteEvent) Type() events.Type { return TypeFavorite }

// RatingEvent announces a rating change on an entity.
type RatingEvent struct {
	ID       string
	ItemType track.ItemType
	Rating   int
	Patched  int
}

func (RatingEvent) Type() events.Type { return TypeRating }
