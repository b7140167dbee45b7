package models

import (
	"errors"
	"fmt"
)

// ErrInvalidModel is returned when a model is neither installed nor pullable.
var ErrInvalidModel = errors.New("invalid model")

// LibraryURL is where users can browse pullable models.
const LibraryURL = "https://ollama.com/library"

// Match describes how a requested model id was resolved.
type Match int

const (
	MatchExact   Match = iota // inventory has the requested name verbatim
	MatchTagged               // requested name is an inventory name without its tag
	MatchPartial              // requested name is a substring of an inventory name
	MatchPulled               // not installed; pulled from the registry
)

func (m Match) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchTagged:
		return "tagged"
	case MatchPartial:
		return "partial"
	case MatchPulled:
		return "pulled"
	default:
		return fmt.Sprintf("Match(%d)", int(m))
	}
}

// Record is the outcome of resolving a model id. It is not modified after
// Resolve returns.
type Record struct {
	Requested string
	Resolved  string
	// Present is true when the model was already installed before resolution.
	Present bool
	Match   Match
}

// FormatSize renders a byte count for progress output.
func FormatSize(bytes int64) string {
	const (
		MB = 1024 * 1024
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
