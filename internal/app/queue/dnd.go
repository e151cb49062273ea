package queue

import "github.com/cockroachdb/errors"

// DropKind is the closed set of drag source kinds a drop handler accepts.
type DropKind int

const (
	DropAlbum     DropKind = iota // Library album, expands to its tracks
	DropArtist                    // Library artist, expands to its tracks
	DropGenre                     // Library genre, expands to its tracks
	DropPlaylist                  // Library playlist, expands to its tracks
	DropFolder                    // Library folder, expands to its tracks
	DropSong                      // Library songs by ID
	DropQueueSong                 // Rows already in the queue (reorder)
)

// String returns the string representation of the drop kind.
func (k DropKind) String() string {
	switch k {
	case DropAlbum:
		return "album"
	case DropArtist:
		return "artist"
	case DropGenre:
		return "genre"
	case DropPlaylist:
		return "playlist"
	case DropFolder:
		return "folder"
	case DropSong:
		return "song"
	case DropQueueSong:
		return "queue_song"
	default:
		return "unknown"
	}
}

// DropPayload is what a drag source hands to the drop handler.
type DropPayload struct {
	Kind      DropKind
	IDs       []string // Library entity IDs (every kind except DropQueueSong)
	UniqueIDs []string // Queue entry unique IDs (DropQueueSong only)
}

// DropAction is the operation a payload resolves to.
type DropAction int

const (
	DropReorder DropAction = iota // Move existing queue rows
	DropInsert                    // Fetch tracks and insert them
)

// Action resolves the payload kind to its queue operation. The switch is
// exhaustive over DropKind; an out-of-range kind is an error, not a fallback.
func (p DropPayload) Action() (DropAction, error) {
	switch p.Kind {
	case DropQueueSong:
		if len(p.UniqueIDs) == 0 {
			return 0, errors.New("queue-song drop payload has no unique IDs")
		}
		return DropReorder, nil
	case DropAlbum, DropArtist, DropGenre, DropPlaylist, DropFolder, DropSong:
		if len(p.IDs) == 0 {
			return 0, errors.Newf("%s drop payload has no entity IDs", p.Kind)
		}
		return DropInsert, nil
	default:
		return 0, errors.Newf("unknown drop kind: %d", int(p.Kind))
	}
}
