// Package results provides ordered, seekable iteration over match identifier
// strings, backed either by memory or by a CSV export on disk.
package results

import "context"

// SearchResults is an ordered, 1-based-seekable, iterable collection of match
// identifier strings.
//
// Close releases backing resources; for file-backed implementations a later
// Reset (or any accessor, which lazily reopens) revives the instance, so a
// result-listing collaborator can keep paging after the producing task has
// cleaned up.
type SearchResults interface {
	// Reset rewinds to the first item and clears the page counter.
	Reset() error
	// Size returns the total number of items. File-backed implementations
	// may return a best-effort estimate.
	Size() int
	// Seek positions the iterator so the next call to Next returns logical
	// item n (1-based), then reports whether such an item exists.
	Seek(n int) bool
	// HasNext reports whether Next would yield another item within the
	// current page.
	HasNext() bool
	// Next returns the next match identifier, or domain.ErrNoSuchElement
	// when exhausted.
	Next() (string, error)
	// SetPageLength caps how many items one iteration pass yields before
	// HasNext reports false. Zero means unlimited.
	SetPageLength(n int)
	// PageLength returns the current page cap.
	PageLength() int
	// Close releases backing resources, tolerating repeated calls.
	Close() error
}

// Enricher supplies the database lookups needed to reconstruct a full match
// identifier from a degraded encoding. Implementations log their own failures;
// callers treat an error as "field unknown" and carry on.
type Enricher interface {
	// SpeakerNumberForWord returns the label of the turn owning the word,
	// interpreted as the participant speaker number.
	SpeakerNumberForWord(ctx context.Context, wordID int64) (int64, error)
	// UtteranceForWord returns the utterance owning the word along with its
	// start and end anchor ids.
	UtteranceForWord(ctx context.Context, wordID int64) (utteranceID, startAnchorID, endAnchorID int64, err error)
	// GraphIDForTranscript resolves a transcript name to its graph id.
	GraphIDForTranscript(ctx context.Context, name string) (int64, error)
	// GraphIDForWord returns the graph id of the transcript containing the word.
	GraphIDForWord(ctx context.Context, wordID int64) (int64, error)
	// WordForTarget returns the first word annotation a non-word target
	// annotation is tagged to.
	WordForTarget(ctx context.Context, scope string, layerID, targetID int64) (int64, error)
}
