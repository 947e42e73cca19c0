package harvest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/paper-harvester/internal/paper"
	"github.com/JakeFAU/paper-harvester/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

// storeSink persists straight into a memory store and can fail the first
// n calls per URL.
type storeSink struct {
	store *memory.PaperStore

	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	warnings []string
}

func newStoreSink(store *memory.PaperStore) *storeSink {
	return &storeSink{store: store, failures: map[string]int{}, calls: map[string]int{}}
}

func (s *storeSink) failFirst(url string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[url] = n
}

func (s *storeSink) callsFor(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

func (s *storeSink) Ingest(ctx context.Context, rec paper.Record, _ bool) (Outcome, error) {
	s.mu.Lock()
	s.calls[rec.SourceURL]++
	if s.failures[rec.SourceURL] > 0 {
		s.failures[rec.SourceURL]--
		s.mu.Unlock()
		return Outcome{}, errors.New("store unavailable")
	}
	warnings := append([]string{}, s.warnings...)
	s.mu.Unlock()

	id, err := s.store.Add(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}
	rec.ID = id
	return Outcome{Record: rec, Warnings: warnings}, nil
}

// sliceHarvester yields a fixed sequence, optionally pausing between
// records and signalling each yield on a channel.
func sliceHarvester(records []paper.Record, delay time.Duration, yielded chan<- int) Harvester {
	return HarvesterFunc(func(ctx context.Context, _ Request, stop *StopSignal, yield Yield) error {
		for i, rec := range records {
			if Halted(ctx, stop) {
				return nil
			}
			if !yield(rec) {
				return nil
			}
			if yielded != nil {
				yielded <- i
			}
			if !Pause(ctx, stop, delay) {
				return nil
			}
		}
		return nil
	})
}

func rec(url, code, year string) paper.Record {
	return paper.Record{
		Title:       "Paper " + url,
		SubjectCode: code,
		SubjectName: "Subject",
		Year:        year,
		Semester:    "Semester 3",
		ExamType:    paper.ExamRegular,
		SourceURL:   url,
	}
}
