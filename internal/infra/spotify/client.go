// Package spotify implements the library source and media resolver on the
// Spotify Web API.
package spotify

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/cadencefm/cadence/internal/app/autodj"
	"github.com/cadencefm/cadence/internal/app/queue"
	"github.com/cadencefm/cadence/internal/app/transport"
	"github.com/cadencefm/cadence/internal/domain/track"
)

// fallbackGenres seeds fully-random recommendations, which the API cannot
// produce without at least one seed.
var fallbackGenres = []string{"pop", "rock", "electronic", "jazz", "hip-hop", "classical", "ambient"}

// Settings is the library block decoded from configuration.
type Settings struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	Market       string `mapstructure:"market"`
}

// ParseSettings decodes the free-form library settings map.
func ParseSettings(m map[string]any) (Settings, error) {
	var s Settings
	if err := mapstructure.Decode(m, &s); err != nil {
		return Settings{}, errors.Wrap(err, "failed to decode spotify settings")
	}
	return s, nil
}

// Client is a Spotify library source. It implements the transport's
// resolver and drop-fetcher contracts and the auto-DJ source contract.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
	rng        *rand.Rand
}

// New creates a Spotify client from a long-lived refresh token.
func New(ctx context.Context, s Settings) (*Client, error) {
	if s.ClientID == "" || s.ClientSecret == "" || s.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(s.ClientID),
		spotifyauth.WithClientSecret(s.ClientSecret),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserLibraryRead,
			spotifyauth.ScopePlaylistReadPrivate,
		),
	)
	token := &oauth2.Token{RefreshToken: s.RefreshToken}
	httpClient := auth.Client(ctx, token)

	market := s.Market
	if market == "" {
		market = "US"
	}

	return &Client{
		client:     spotify.New(httpClient),
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
		rng:        rand.New(rand.NewSource(cryptoSeed())),
	}, nil
}

// FetchByIDs retrieves full track information for the given IDs.
func (c *Client) FetchByIDs(ctx context.Context, ids []string) ([]track.Track, error) {
	tracks := make([]track.Track, 0, len(ids))
	for _, batch := range chunkIDs(ids, 50) {
		var result []*spotify.FullTrack
		err := c.retry(func() error {
			r, err := c.client.GetTracks(ctx, batch, spotify.Market(c.market))
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get tracks")
		}
		for _, t := range result {
			if t != nil && t.ID != "" {
				tracks = append(tracks, c.convertTrack(t))
			}
		}
	}
	return tracks, nil
}

// SupportsSimilar reports that track-seeded recommendations are available.
func (c *Client) SupportsSimilar() bool { return true }

// FetchSimilar returns recommendations seeded by the given track.
func (c *Client) FetchSimilar(ctx context.Context, seed track.Track, count int) ([]track.Track, error) {
	ids, err := c.recommendIDs(ctx, spotify.Seeds{Tracks: []spotify.ID{spotify.ID(seed.ID)}}, count)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get similar tracks")
	}
	return c.FetchByIDs(ctx, ids)
}

// FetchRandom returns recommendations narrowed by the filter. With no
// filter, a random genre seed stands in since the API requires one.
func (c *Client) FetchRandom(ctx context.Context, f autodj.Filter, count int) ([]track.Track, error) {
	var seeds spotify.Seeds
	switch {
	case f.Genre != "":
		seeds.Genres = []string{strings.ToLower(f.Genre)}
	case f.AlbumArtistID != "":
		seeds.Artists = []spotify.ID{spotify.ID(f.AlbumArtistID)}
	default:
		seeds.Genres = []string{fallbackGenres[c.rng.Intn(len(fallbackGenres))]}
	}

	ids, err := c.recommendIDs(ctx, seeds, count)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get random tracks")
	}
	return c.FetchByIDs(ctx, ids)
}

// Resolve returns a playable source for a track. Tracks carrying their own
// stream URL resolve without a round trip.
func (c *Client) Resolve(ctx context.Context, t track.Track) (transport.Source, error) {
	if t.StreamURL != "" {
		return transport.Source{URL: t.StreamURL, Lossless: t.Lossless}, nil
	}

	var full *spotify.FullTrack
	err := c.retry(func() error {
		r, err := c.client.GetTrack(ctx, spotify.ID(extractTrackID(t.ID)), spotify.Market(c.market))
		if err != nil {
			return err
		}
		full = r
		return nil
	})
	if err != nil {
		return transport.Source{}, errors.Wrap(err, "failed to resolve track")
	}
	if full.PreviewURL == "" {
		return transport.Source{}, errors.Newf("no playable stream for track %s", t.ID)
	}
	return transport.Source{URL: full.PreviewURL, Lossless: false}, nil
}

// FetchForDrop expands a dropped library entity into tracks.
func (c *Client) FetchForDrop(ctx context.Context, payload queue.DropPayload) ([]track.Track, error) {
	var tracks []track.Track
	for _, id := range payload.IDs {
		got, err := c.fetchEntity(ctx, payload.Kind, id)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, got...)
	}
	return tracks, nil
}

func (c *Client) fetchEntity(ctx context.Context, kind queue.DropKind, id string) ([]track.Track, error) {
	switch kind {
	case queue.DropSong:
		return c.FetchByIDs(ctx, []string{id})
	case queue.DropAlbum:
		return c.fetchAlbumTracks(ctx, id)
	case queue.DropArtist:
		return c.fetchArtistTopTracks(ctx, id)
	case queue.DropPlaylist:
		return c.fetchPlaylistTracks(ctx, id)
	case queue.DropGenre:
		return c.FetchRandom(ctx, autodj.Filter{Genre: id}, 50)
	default:
		return nil, errors.Newf("cannot expand dropped %s", kind)
	}
}

func (c *Client) fetchAlbumTracks(ctx context.Context, albumID string) ([]track.Track, error) {
	var page *spotify.SimpleTrackPage
	err := c.retry(func() error {
		p, err := c.client.GetAlbumTracks(ctx, spotify.ID(albumID), spotify.Market(c.market), spotify.Limit(50))
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get album tracks")
	}

	// Album pages carry simple tracks; refetch for full album metadata.
	ids := make([]string, 0, len(page.Tracks))
	for _, t := range page.Tracks {
		ids = append(ids, string(t.ID))
	}
	return c.FetchByIDs(ctx, ids)
}

func (c *Client) fetchArtistTopTracks(ctx context.Context, artistID string) ([]track.Track, error) {
	var top []spotify.FullTrack
	err := c.retry(func() error {
		r, err := c.client.GetArtistsTopTracks(ctx, spotify.ID(artistID), c.market)
		if err != nil {
			return err
		}
		top = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get artist top tracks")
	}

	tracks := make([]track.Track, 0, len(top))
	for i := range top {
		tracks = append(tracks, c.convertTrack(&top[i]))
	}
	return tracks, nil
}

func (c *Client) fetchPlaylistTracks(ctx context.Context, playlistID string) ([]track.Track, error) {
	id := extractPlaylistID(playlistID)
	var tracks []track.Track
	offset := 0
	const limit = 100

	for {
		var page *spotify.PlaylistItemPage
		err := c.retry(func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(id),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Episodes have no track payload
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				tracks = append(tracks, c.convertTrack(item.Track.Track))
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}
	return tracks, nil
}

// recommendIDs runs a recommendation query and returns the track IDs.
func (c *Client) recommendIDs(ctx context.Context, seeds spotify.Seeds, count int) ([]string, error) {
	if count <= 0 {
		count = 20
	}
	if count > 100 {
		count = 100
	}

	var recs *spotify.Recommendations
	err := c.retry(func() error {
		r, err := c.client.GetRecommendations(ctx, seeds, nil, spotify.Limit(count))
		if err != nil {
			return err
		}
		recs = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(recs.Tracks))
	for _, t := range recs.Tracks {
		if t.ID != "" {
			ids = append(ids, string(t.ID))
		}
	}
	return ids, nil
}

// convertTrack converts a Spotify FullTrack to a domain track.
func (c *Client) convertTrack(t *spotify.FullTrack) track.Track {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}

	var artwork string
	if len(t.Album.Images) > 0 {
		artwork = t.Album.Images[0].URL
	}

	var albumArtist, albumArtistID string
	if len(t.Album.Artists) > 0 {
		albumArtist = t.Album.Artists[0].Name
		albumArtistID = string(t.Album.Artists[0].ID)
	}

	return track.Track{
		ID:            string(t.ID),
		ServerID:      string(t.ID),
		Name:          t.Name,
		Album:         t.Album.Name,
		AlbumID:       string(t.Album.ID),
		Artist:        strings.Join(names, ", "),
		AlbumArtist:   albumArtist,
		AlbumArtistID: albumArtistID,
		Duration:      time.Duration(t.Duration) * time.Millisecond,
		ArtworkURL:    artwork,
		StreamURL:     t.PreviewURL,
		Lossless:      false,
	}
}

// retry retries an operation with linear backoff.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// chunkIDs splits IDs into API-sized batches.
func chunkIDs(ids []string, size int) [][]spotify.ID {
	var batches [][]spotify.ID
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		batch := make([]spotify.ID, 0, end-i)
		for _, id := range ids[i:end] {
			batch = append(batch, spotify.ID(extractTrackID(id)))
		}
		batches = append(batches, batch)
	}
	return batches
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}
	return input
}

// extractPlaylistID extracts the playlist ID from a Spotify playlist URL
// or URI.
func extractPlaylistID(input string) string {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:playlist:") {
		return strings.TrimPrefix(input, "spotify:playlist:")
	}
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/playlist/") {
		parts := strings.Split(input, "/playlist/")
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}
	return input
}

// cryptoSeed produces a non-deterministic seed for genre selection.
func cryptoSeed() int64 {
	var b [8]byte
	if _, err := cryptoRand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
