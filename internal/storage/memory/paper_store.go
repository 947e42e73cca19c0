// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/paper-harvester/internal/paper"
)

// PaperStore keeps records in insertion order behind a RWMutex.
type PaperStore struct {
	mu      sync.RWMutex
	records []paper.Record
	byID    map[string]int
	byURL   map[string]int
	ids     paper.IDGenerator
	clock   paper.Clock
	seq     int
}

// NewPaperStore constructs a PaperStore. A nil ids falls back to sequential
// ids and a nil clock to time.Now.
func NewPaperStore(ids paper.IDGenerator, clock paper.Clock) *PaperStore {
	return &PaperStore{
		byID:  make(map[string]int),
		byURL: make(map[string]int),
		ids:   ids,
		clock: clock,
	}
}

// ExistsByURL reports whether a record with the exact source URL exists.
func (s *PaperStore) ExistsByURL(_ context.Context, sourceURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byURL[sourceURL]
	return ok, nil
}

// ExistsByFingerprint reports whether any record matches the fingerprint.
func (s *PaperStore) ExistsByFingerprint(_ context.Context, fp paper.Fingerprint) (bool, error) {
	if !fp.Usable() {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if fp.Matches(rec) {
			return true, nil
		}
	}
	return false, nil
}

// Add stores the record, assigning id and timestamps.
func (s *PaperStore) Add(_ context.Context, rec paper.Record) (string, error) {
	if rec.SourceURL == "" {
		return "", errors.New("source url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.nextID()
	if err != nil {
		return "", err
	}
	now := s.now()
	rec.ID = id
	rec.CreatedAt = &now
	rec.UpdatedAt = &now
	s.records = append(s.records, rec)
	s.byID[id] = len(s.records) - 1
	s.byURL[rec.SourceURL] = len(s.records) - 1
	return id, nil
}

// Get fetches a record by ID.
func (s *PaperStore) Get(_ context.Context, id string) (paper.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return paper.Record{}, paper.ErrNotFound
	}
	return s.records[idx], nil
}

// List returns matching records, newest first.
func (s *PaperStore) List(_ context.Context, filter paper.Filter) ([]paper.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []paper.Record
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if matchesFilter(rec, filter) {
			out = append(out, rec)
		}
	}
	return page(out, filter.Offset, filter.Limit), nil
}

// Search returns records whose title, subject name or code contains term.
func (s *PaperStore) Search(_ context.Context, term string, limit int) ([]paper.Record, error) {
	if limit <= 0 {
		limit = paper.DefaultLimit
	}
	needle := strings.ToLower(strings.TrimSpace(term))
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []paper.Record{}
	for _, rec := range s.records {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(rec.Title), needle) ||
			strings.Contains(strings.ToLower(rec.SubjectName), needle) ||
			strings.Contains(strings.ToLower(rec.SubjectCode), needle) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Distinct returns the sorted non-empty values of field.
func (s *PaperStore) Distinct(_ context.Context, field paper.Field) ([]string, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("field %q cannot be enumerated", field)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, rec := range s.records {
		if v := field.Value(rec); v != "" {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of stored records.
func (s *PaperStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *PaperStore) nextID() (string, error) {
	if s.ids != nil {
		id, err := s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		return id, nil
	}
	s.seq++
	return "paper-" + strconv.Itoa(s.seq), nil
}

func (s *PaperStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func matchesFilter(rec paper.Record, f paper.Filter) bool {
	switch {
	case f.Year != "" && rec.Year != f.Year:
		return false
	case f.Semester != "" && rec.Semester != f.Semester:
		return false
	case f.Branch != "" && rec.Branch != f.Branch:
		return false
	case f.Subject != "" && rec.SubjectName != f.Subject:
		return false
	default:
		return true
	}
}

func page(records []paper.Record, offset, limit int) []paper.Record {
	if limit <= 0 {
		limit = paper.DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []paper.Record{}
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return append([]paper.Record{}, records[offset:end]...)
}
