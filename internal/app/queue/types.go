// Package queue provides the playback queue store: the single source of
// truth for queue contents, the shuffle permutation and the play index.
package queue

// EmptyIndex is the sentinel play index of an empty queue.
const EmptyIndex = -1

// RepeatMode controls how Next and Previous behave at queue boundaries.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota // Stop at the end of the queue
	RepeatOne                   // Keep returning the same track
	RepeatAll                   // Wrap around at the boundary
)

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseRepeatMode parses a repeat mode name as used in configuration.
func ParseRepeatMode(s string) RepeatMode {
	switch s {
	case "one":
		return RepeatOne
	case "all":
		return RepeatAll
	default:
		return RepeatOff
	}
}

// Position selects where InsertAt places tracks relative to the play index.
type Position int

const (
	PositionNow  Position = iota // Insert after current, advance to the first inserted track
	PositionNext                 // Insert after current without moving the index
	PositionLast                 // Append to the end of the effective order
)

// String returns the string representation of the insert position.
func (p Position) String() string {
	switch p {
	case PositionNow:
		return "now"
	case PositionNext:
		return "next"
	case PositionLast:
		return "last"
	default:
		return "unknown"
	}
}

// Edge selects which side of the target row a moved group lands on.
type Edge int

const (
	EdgeTop    Edge = iota // Place moved rows before the target
	EdgeBottom             // Place moved rows after the target
)

// String returns the string representation of the edge.
func (e Edge) String() string {
	switch e {
	case EdgeTop:
		return "top"
	case EdgeBottom:
		return "bottom"
	default:
		return "unknown"
	}
}
