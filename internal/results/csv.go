package results

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/domain"
	"github.com/corpex-io/corpex/internal/domain/matchid"
)

// DefaultTargetColumn is the CSV column assumed to carry match identifiers.
const DefaultTargetColumn = "MatchId"

// idMode is the identifier-reconstruction strategy, chosen once against the
// first data record and applied uniformly to all records.
type idMode int

const (
	// modeVerbatim means no known pattern matched the first record;
	// reconstruction is disabled and values pass through unchanged.
	modeVerbatim idMode = iota
	// modeFull means the column already carries canonical identifiers;
	// no database access is needed.
	modeFull
	// modeGraphURL means transcript URLs keyed by graph id.
	modeGraphURL
	// modeNameURL means transcript URLs keyed by transcript name.
	modeNameURL
	// modeUID means bare annotation UIDs, the weakest form.
	modeUID
)

// CsvResults treats an arbitrary CSV export as a SearchResults source. The
// field delimiter, the record count, and the identifier encoding of the
// target column are inferred on first use; partially-specified identifiers
// are enriched per row through the Enricher.
//
// Size is a newline count and therefore a best-effort estimate when fields
// contain embedded newlines.
type CsvResults struct {
	path         string
	targetColumn string
	enrich       Enricher
	logger       *zap.Logger

	file      *os.File
	reader    *csv.Reader
	comma     rune
	columns   []string
	targetIdx int
	mode      idMode

	opened  bool
	openErr error

	sizeComputed bool
	size         int
	prefixWidth  int

	pending    []string
	pendingErr error
	nextRow    int

	page       int
	pageLength int

	lastRecord []string
	nameCache  map[string]int64
}

var _ SearchResults = (*CsvResults)(nil)

// NewCsvResults creates a CSV-backed result set. targetColumn defaults to
// DefaultTargetColumn; enrich may be nil, in which case degraded identifiers
// keep zero values for the fields the pattern did not supply.
func NewCsvResults(path, targetColumn string, enrich Enricher, logger *zap.Logger) *CsvResults {
	if targetColumn == "" {
		targetColumn = DefaultTargetColumn
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CsvResults{
		path:         path,
		targetColumn: targetColumn,
		enrich:       enrich,
		logger:       logger,
		nameCache:    make(map[string]int64),
	}
}

// Reset (re)opens the CSV parser at the first data record, re-deriving the
// column list and the identifier-pattern choice. Safe to call before first
// use; every other accessor triggers it lazily.
func (r *CsvResults) Reset() error {
	r.closeFile()
	r.pending = nil
	r.pendingErr = nil
	r.nextRow = 1
	r.page = 0
	r.opened = true

	if !r.sizeComputed {
		if err := r.scanFile(); err != nil {
			r.openErr = err
			r.logger.Error("could not scan results file", zap.String("path", r.path), zap.Error(err))
			return r.openErr
		}
		r.sizeComputed = true
	}

	f, err := os.Open(r.path)
	if err != nil {
		r.openErr = fmt.Errorf("%w: %w", domain.ErrResultsUnavailable, err)
		r.logger.Error("could not open results file", zap.String("path", r.path), zap.Error(err))
		return r.openErr
	}
	r.file = f
	r.reader = csv.NewReader(f)
	r.reader.Comma = r.comma
	r.reader.FieldsPerRecord = -1
	r.reader.LazyQuotes = true

	header, err := r.reader.Read()
	if err != nil {
		r.closeFile()
		r.openErr = fmt.Errorf("%w: reading header: %w", domain.ErrResultsUnavailable, err)
		return r.openErr
	}
	r.columns = header
	r.targetIdx = len(header) - 1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), r.targetColumn) {
			r.targetIdx = i
			break
		}
	}

	r.openErr = nil
	r.sniffMode()
	return nil
}

// scanFile infers the delimiter from the first non-blank line and counts
// data records (newlines minus the header).
func (r *CsvResults) scanFile() error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrResultsUnavailable, err)
	}
	defer f.Close()

	r.comma = ','
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() {
		line := scanner.Text()
		if lines == 0 && strings.TrimSpace(line) != "" {
			r.comma = inferDelimiter(line)
		}
		lines++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrResultsUnavailable, err)
	}
	r.size = lines - 1
	if r.size < 0 {
		r.size = 0
	}
	r.prefixWidth = len(strconv.Itoa(r.size))
	return nil
}

func inferDelimiter(line string) rune {
	best, bestCount := ',', strings.Count(line, ",")
	if n := strings.Count(line, ";"); n > bestCount {
		best, bestCount = ';', n
	}
	if n := strings.Count(line, "\t"); n > bestCount {
		best = '\t'
	}
	return rune(best)
}

func (r *CsvResults) fillPending() {
	if r.pending != nil || r.pendingErr != nil {
		return
	}
	rec, err := r.reader.Read()
	switch {
	case err == nil:
		r.pending = rec
	case errors.Is(err, io.EOF):
		r.pendingErr = domain.ErrNoSuchElement
	default:
		r.logger.Error("results file read failed", zap.String("path", r.path), zap.Error(err))
		r.pendingErr = err
	}
}

// sniffMode chooses the reconstruction strategy from the first data record.
// When nothing matches, reconstruction is disabled rather than failing the
// whole file.
func (r *CsvResults) sniffMode() {
	r.fillPending()
	if r.pending == nil || r.targetIdx >= len(r.pending) {
		r.mode = modeVerbatim
		return
	}
	value := r.pending[r.targetIdx]
	switch {
	case matchid.MatchesFull(value):
		r.mode = modeFull
	case matchid.MatchesGraphURL(value):
		r.mode = modeGraphURL
	case matchid.MatchesNameURL(value):
		r.mode = modeNameURL
	case matchid.MatchesUID(value):
		r.mode = modeUID
	default:
		r.mode = modeVerbatim
		r.logger.Info("unrecognized match identifier format, passing values through",
			zap.String("path", r.path), zap.String("value", value))
	}
}

func (r *CsvResults) ensureOpen() error {
	if !r.opened {
		return r.Reset()
	}
	return r.openErr
}

// Size returns the record count estimate derived once, up front, from the
// file's newline count.
func (r *CsvResults) Size() int {
	if err := r.ensureOpen(); err != nil {
		return 0
	}
	return r.size
}

// Columns returns the header fields of the CSV file.
func (r *CsvResults) Columns() []string {
	if err := r.ensureOpen(); err != nil {
		return nil
	}
	return r.columns
}

// LastRecord returns the raw fields of the most recently consumed row.
func (r *CsvResults) LastRecord() []string { return r.lastRecord }

// HasNext reports whether another record is available within the current page.
func (r *CsvResults) HasNext() bool {
	if err := r.ensureOpen(); err != nil {
		return false
	}
	if r.pageLength > 0 && r.page >= r.pageLength {
		return false
	}
	r.fillPending()
	return r.pendingErr == nil
}

// Next advances the parser one record and returns the reconstructed match
// identifier, or the raw target-column value when reconstruction is disabled.
func (r *CsvResults) Next() (string, error) {
	if err := r.ensureOpen(); err != nil {
		return "", err
	}
	if r.pageLength > 0 && r.page >= r.pageLength {
		return "", domain.ErrNoSuchElement
	}
	r.fillPending()
	if r.pendingErr != nil {
		return "", r.pendingErr
	}
	rec := r.pending
	r.pending = nil
	row := r.nextRow
	r.nextRow++
	r.page++
	r.lastRecord = rec

	raw := ""
	if r.targetIdx < len(rec) {
		raw = rec[r.targetIdx]
	}
	return r.identify(raw, row), nil
}

// identify applies the strategy chosen by sniffMode to one row's value.
func (r *CsvResults) identify(raw string, row int) string {
	var (
		id  matchid.MatchID
		err error
	)
	switch r.mode {
	case modeFull, modeVerbatim:
		return raw
	case modeGraphURL:
		id, err = matchid.ParseGraphURL(raw)
	case modeNameURL:
		var name string
		id, name, err = matchid.ParseNameURL(raw)
		if err == nil {
			id.GraphID = r.graphIDForName(name)
		}
	case modeUID:
		id, err = matchid.ParseUID(raw)
	}
	if err != nil {
		// A later row in a different shape than the first; degrade.
		r.logger.Warn("row does not match inferred identifier format",
			zap.Int("row", row), zap.String("value", raw))
		return raw
	}
	r.complete(&id)
	id.Prefix = fmt.Sprintf("%0*d-", r.prefixWidth, row)
	return id.String()
}

// complete fills in the fields the matched pattern did not supply, keyed off
// the first word annotation. Lookup failures leave the field unknown.
func (r *CsvResults) complete(id *matchid.MatchID) {
	if r.enrich == nil {
		return
	}
	ctx := context.Background()

	if id.FirstWordID == 0 {
		if id.TargetOnWordTrack() {
			id.FirstWordID = id.TargetID
		} else {
			wordID, err := r.enrich.WordForTarget(ctx, id.TargetScope, id.TargetLayerID, id.TargetID)
			if err != nil {
				r.logger.Warn("first word lookup failed", zap.String("target", id.TargetUID()), zap.Error(err))
				return
			}
			id.FirstWordID = wordID
		}
	}

	if id.GraphID == 0 {
		if agID, err := r.enrich.GraphIDForWord(ctx, id.FirstWordID); err != nil {
			r.logger.Warn("graph id lookup failed", zap.Int64("word", id.FirstWordID), zap.Error(err))
		} else {
			id.GraphID = agID
		}
	}

	if id.UtteranceID == 0 {
		uttID, start, end, err := r.enrich.UtteranceForWord(ctx, id.FirstWordID)
		if err != nil {
			r.logger.Warn("utterance lookup failed", zap.Int64("word", id.FirstWordID), zap.Error(err))
		} else {
			id.UtteranceID = uttID
			// anchors captured by the pattern are not overwritten
			if id.StartAnchorID == 0 {
				id.StartAnchorID = start
			}
			if id.EndAnchorID == 0 {
				id.EndAnchorID = end
			}
		}
	}

	if id.SpeakerNumber == 0 {
		if speaker, err := r.enrich.SpeakerNumberForWord(ctx, id.FirstWordID); err != nil {
			r.logger.Warn("speaker lookup failed", zap.Int64("word", id.FirstWordID), zap.Error(err))
		} else {
			id.SpeakerNumber = speaker
		}
	}
}

// graphIDForName resolves a transcript name to a graph id, consulting the
// database once per distinct name for the life of this instance.
func (r *CsvResults) graphIDForName(name string) int64 {
	if agID, ok := r.nameCache[name]; ok {
		return agID
	}
	if r.enrich == nil {
		return 0
	}
	agID, err := r.enrich.GraphIDForTranscript(context.Background(), name)
	if err != nil {
		r.logger.Warn("transcript name lookup failed", zap.String("transcript", name), zap.Error(err))
		return 0
	}
	r.nameCache[name] = agID
	return agID
}

// Seek positions the parser so Next returns logical row n (1-based). CSV
// parsing has no random access, so seeking backwards resets and re-skips.
func (r *CsvResults) Seek(n int) bool {
	if err := r.ensureOpen(); err != nil {
		return false
	}
	if n < 1 {
		n = 1
	}
	if r.nextRow > n {
		if err := r.Reset(); err != nil {
			return false
		}
	}
	for r.nextRow < n {
		r.fillPending()
		if r.pendingErr != nil {
			return false
		}
		r.pending = nil
		r.nextRow++
	}
	return r.HasNext()
}

// SetPageLength caps items per iteration pass; zero means unlimited.
func (r *CsvResults) SetPageLength(n int) { r.pageLength = n }

// PageLength returns the page cap.
func (r *CsvResults) PageLength() int { return r.pageLength }

// Close releases the parser and, when the enricher holds a database
// connection, that connection too. Tolerates repeated calls; any later
// accessor reopens the file.
func (r *CsvResults) Close() error {
	r.closeFile()
	r.opened = false
	if c, ok := r.enrich.(io.Closer); ok && c != nil {
		return c.Close()
	}
	return nil
}

func (r *CsvResults) closeFile() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	r.reader = nil
}
