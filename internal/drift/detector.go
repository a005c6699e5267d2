package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/specdoc"
)

// PreambleHeader keys the text that precedes a document's first header.
const PreambleHeader = "(preamble)"

// Drift is one section whose content changed since it was captured.
type Drift struct {
	DocumentID   string    `json:"document_id"`
	Header       string    `json:"header"`
	PreviousHash string    `json:"previous_hash"`
	CurrentHash  string    `json:"current_hash"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Hash returns the hex SHA-256 of a section body. Line endings are
// normalized and surrounding whitespace trimmed, so edits that only touch
// blank lines around a section are not drift.
func Hash(content string) string {
	normalized := strings.TrimSpace(strings.ReplaceAll(content, "\r\n", "\n"))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the detector logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// Detector compares documents against a Cache.
type Detector struct {
	cache  Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewDetector creates a detector backed by cache. A nil cache gets a fresh
// MemoryCache.
func NewDetector(cache Cache, opts ...Option) *Detector {
	if cache == nil {
		cache = NewMemoryCache()
	}
	d := &Detector{cache: cache, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("drift")
	return d
}

// Capture stores every section of content as the baseline for documentID.
// Sections that no longer exist are dropped from the cache.
func (d *Detector) Capture(documentID, content string) int {
	d.cache.Forget(documentID)
	now := d.now()
	sections := keyedSections(content)
	for _, s := range sections {
		d.cache.Put(CachedSection{
			DocumentID: documentID,
			Header:     s.key,
			Content:    s.body,
			Hash:       Hash(s.body),
			CapturedAt: now,
		})
	}
	return len(sections)
}

// Detect returns the sections of content whose hash differs from the cached
// hash for the same header. Sections with no cached entry and unchanged
// sections are not reported.
func (d *Detector) Detect(documentID, content string) []Drift {
	var drifts []Drift
	for _, s := range keyedSections(content) {
		cached, ok := d.cache.Get(documentID, s.key)
		if !ok {
			continue
		}
		current := Hash(s.body)
		if current == cached.Hash {
			continue
		}
		drifts = append(drifts, Drift{
			DocumentID:   documentID,
			Header:       s.key,
			PreviousHash: cached.Hash,
			CurrentHash:  current,
			CapturedAt:   cached.CapturedAt,
		})
	}

	if len(drifts) > 0 {
		d.logger.Info("specification drift detected",
			zap.String("document", documentID),
			zap.Int("sections", len(drifts)),
		)
	}
	return drifts
}

// Refresh detects drift against the cached baseline and then captures
// content as the new baseline.
func (d *Detector) Refresh(documentID, content string) []Drift {
	drifts := d.Detect(documentID, content)
	d.Capture(documentID, content)
	return drifts
}

// Baseline returns the cached sections for documentID.
func (d *Detector) Baseline(documentID string) []CachedSection {
	return d.cache.Sections(documentID)
}

type keyedSection struct {
	key  string
	body string
}

// keyedSections gives each section a unique key: its header, with "#2",
// "#3", ... appended to repeated headers in document order.
func keyedSections(content string) []keyedSection {
	doc := specdoc.Parse(content)
	seen := map[string]int{}
	out := make([]keyedSection, 0, len(doc.Sections))
	for _, s := range doc.Sections {
		key := s.Header
		if s.Level == 0 {
			key = PreambleHeader
		}
		seen[key]++
		if n := seen[key]; n > 1 {
			key = fmt.Sprintf("%s#%d", key, n)
		}
		out = append(out, keyedSection{key: key, body: s.Body})
	}
	return out
}
