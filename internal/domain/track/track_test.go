package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewQueueEntry_UniqueIDs(t *testing.T) {
	tr := Track{ID: "song-1", Name: "Karma Police"}

	e1 := NewQueueEntry(tr)
	e2 := NewQueueEntry(tr)

	assert.Equal(t, "song-1", e1.ID)
	assert.Equal(t, "song-1", e2.ID)
	assert.NotEmpty(t, e1.UniqueID)
	assert.NotEqual(t, e1.UniqueID, e2.UniqueID, "duplicate occurrences must get distinct unique IDs")
}

func TestQueueEntry_Matches(t *testing.T) {
	entry := QueueEntry{
		Track: Track{
			ID:            "song-1",
			AlbumID:       "album-9",
			AlbumArtistID: "artist-3",
		},
	}

	tests := []struct {
		name     string
		id       string
		itemType ItemType
		expected bool
	}{
		{name: "song match", id: "song-1", itemType: ItemSong, expected: true},
		{name: "song mismatch", id: "song-2", itemType: ItemSong, expected: false},
		{name: "album match", id: "album-9", itemType: ItemAlbum, expected: true},
		{name: "album mismatch", id: "album-1", itemType: ItemAlbum, expected: false},
		{name: "album artist match", id: "artist-3", itemType: ItemAlbumArtist, expected: true},
		{name: "album artist mismatch", id: "artist-1", itemType: ItemAlbumArtist, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, entry.Matches(tt.id, tt.itemType))
		})
	}
}

func TestQueueEntry_Apply(t *testing.T) {
	entry := NewQueueEntry(Track{ID: "song-1", Favorite: false, Rating: 2})

	fav := true
	entry.Apply(Patch{Favorite: &fav})
	assert.True(t, entry.Favorite)
	assert.Equal(t, 2, entry.Rating, "nil rating field must leave rating untouched")

	rating := 5
	entry.Apply(Patch{Rating: &rating})
	assert.True(t, entry.Favorite, "nil favorite field must leave favorite untouched")
	assert.Equal(t, 5, entry.Rating)
}

func TestItemType_String(t *testing.T) {
	assert.Equal(t, "song", ItemSong.String())
	assert.Equal(t, "album", ItemAlbum.String())
	assert.Equal(t, "album_artist", ItemAlbumArtist.String())
	assert.Equal(t, "unknown", ItemType(99).String())
}
