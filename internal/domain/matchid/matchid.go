// Package matchid models the structured identifiers that name one search hit's
// location in the annotation graph, and the legacy textual encodings they are
// reconstructed from.
package matchid

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/corpex-io/corpex/internal/domain"
)

// MatchID locates one search hit: the transcript (graph), the utterance that
// defines its bounds, the participant, the target annotation, and the first
// word token of the match.
type MatchID struct {
	GraphID       int64
	UtteranceID   int64
	StartAnchorID int64
	EndAnchorID   int64
	SpeakerNumber int64
	TargetScope   string // single lowercase character; "" denotes the word track
	TargetLayerID int64
	TargetID      int64
	FirstWordID   int64
	Prefix        string // zero-padded row label, e.g. "007-"
}

// The canonical encoding, e.g.
//
//	g_243;em_12_20035;n_72700-n_72709;p_3;#=ew_0_12611;prefix=001-;[0]=ew_0_12611
//
// The prefix segment and any trailing attributes are optional.
var fullPattern = regexp.MustCompile(
	`^g_(\d+);em_12_(\d+);n_(\d+)-n_(\d+);p_(\d+);#=e([a-z]?)_(\d+)_(\d+);(?:prefix=(\d+-);)?\[0\]=ew_0_(\d+)(?:;.*)?$`)

// Legacy transcript URL keyed by graph id:
// https://host/.../transcript?ag_id=243#em_12_20035
var urlGraphPattern = regexp.MustCompile(
	`^https?://.+/transcript\?ag_id=(\d+)#e([a-z]?)_(\d+)_(\d+)$`)

// Legacy transcript URL keyed by transcript name:
// https://host/.../transcript?transcript=AP511_MikeThorpe.eaf#em_12_20035
var urlNamePattern = regexp.MustCompile(
	`^https?://.+/transcript\?transcript=([^#?&]+)#e([a-z]?)_(\d+)_(\d+)$`)

// Bare annotation UID, weakest form: em_12_20035, ew_0_12611, e_0_123.
var uidPattern = regexp.MustCompile(`^e([a-z]?)_(\d+)_(\d+)$`)

// MatchesFull reports whether s is in the canonical encoding.
func MatchesFull(s string) bool { return fullPattern.MatchString(s) }

// MatchesGraphURL reports whether s is a transcript URL keyed by graph id.
func MatchesGraphURL(s string) bool { return urlGraphPattern.MatchString(s) }

// MatchesNameURL reports whether s is a transcript URL keyed by transcript name.
func MatchesNameURL(s string) bool { return urlNamePattern.MatchString(s) }

// MatchesUID reports whether s is a bare annotation UID.
func MatchesUID(s string) bool { return uidPattern.MatchString(s) }

// Parse decodes a canonical match identifier.
func Parse(s string) (MatchID, error) {
	m := fullPattern.FindStringSubmatch(s)
	if m == nil {
		return MatchID{}, fmt.Errorf("%w: %q", domain.ErrUnknownIDFormat, s)
	}
	var f intFields
	id := MatchID{
		GraphID:       f.parse(m[1]),
		UtteranceID:   f.parse(m[2]),
		StartAnchorID: f.parse(m[3]),
		EndAnchorID:   f.parse(m[4]),
		SpeakerNumber: f.parse(m[5]),
		TargetScope:   m[6],
		TargetLayerID: f.parse(m[7]),
		TargetID:      f.parse(m[8]),
		Prefix:        m[9],
		FirstWordID:   f.parse(m[10]),
	}
	if f.err != nil {
		return MatchID{}, fmt.Errorf("%w: %q", domain.ErrUnknownIDFormat, s)
	}
	return id, nil
}

// ParseGraphURL decodes a transcript URL keyed by graph id. Only the graph id
// and the target triple are known; everything else must be supplied elsewhere.
func ParseGraphURL(s string) (MatchID, error) {
	m := urlGraphPattern.FindStringSubmatch(s)
	if m == nil {
		return MatchID{}, fmt.Errorf("%w: %q", domain.ErrUnknownIDFormat, s)
	}
	var f intFields
	id := MatchID{
		GraphID:       f.parse(m[1]),
		TargetScope:   m[2],
		TargetLayerID: f.parse(m[3]),
		TargetID:      f.parse(m[4]),
	}
	if f.err != nil {
		return MatchID{}, fmt.Errorf("%w: %q", domain.ErrUnknownIDFormat, s)
	}
	return id, nil
}

// ParseNameURL decodes a transcript URL keyed by transcript name. The returned
// identifier has no graph id; the name is returned separately for resolution.
func ParseNameURL(s string) (MatchID, string, error) {
	m := urlNamePattern.FindStringSubmatch(s)
	if m == nil {
		return MatchID{}, "", fmt.Errorf("%w: %q", domain.ErrUnknownIDFormat, s)
	}
	var f intFields
	id := MatchID{
		TargetScope:   m[2],
		TargetLayerID: f.parse(m[3]),
		TargetID:      f.parse(m[4]),
	}
	if f.err != nil {
		return MatchID{}, "", fmt.Errorf("%w: %q", domain.ErrUnknownIDFormat, s)
	}
	return id, m[1], nil
}

// ParseUID decodes a bare annotation UID. Only the target triple is known.
func ParseUID(s string) (MatchID, error) {
	m := uidPattern.FindStringSubmatch(s)
	if m == nil {
		return MatchID{}, fmt.Errorf("%w: %q", domain.ErrUnknownIDFormat, s)
	}
	var f intFields
	id := MatchID{
		TargetScope:   m[1],
		TargetLayerID: f.parse(m[2]),
		TargetID:      f.parse(m[3]),
	}
	if f.err != nil {
		return MatchID{}, fmt.Errorf("%w: %q", domain.ErrUnknownIDFormat, s)
	}
	return id, nil
}

// TargetUID returns the target annotation's UID, e.g. "ew_0_12611".
func (id MatchID) TargetUID() string {
	return fmt.Sprintf("e%s_%d_%d", id.TargetScope, id.TargetLayerID, id.TargetID)
}

// TargetOnWordTrack reports whether the target annotation is itself a word
// token: layer 0, word scope (an empty scope character also denotes it).
// Word-scoped tags on other layers are not words and need resolution.
func (id MatchID) TargetOnWordTrack() bool {
	return id.TargetLayerID == 0 && (id.TargetScope == "" || id.TargetScope == "w")
}

// String serializes the identifier in the canonical encoding. The prefix
// segment is omitted when empty.
func (id MatchID) String() string {
	prefix := ""
	if id.Prefix != "" {
		prefix = "prefix=" + id.Prefix + ";"
	}
	return fmt.Sprintf("g_%d;em_12_%d;n_%d-n_%d;p_%d;#=%s;%s[0]=ew_0_%d",
		id.GraphID, id.UtteranceID, id.StartAnchorID, id.EndAnchorID,
		id.SpeakerNumber, id.TargetUID(), prefix, id.FirstWordID)
}

// intFields parses the decimal fields a pattern captured, keeping the first
// failure. A field too large for int64 still matches \d+, so the caller must
// treat the whole identifier as unknown rather than accept a wrapped value.
type intFields struct{ err error }

func (f *intFields) parse(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil && f.err == nil {
		f.err = err
	}
	return n
}
