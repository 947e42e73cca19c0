package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/paper-harvester/internal/paper"
	"github.com/JakeFAU/paper-harvester/internal/storage/memory"
)

func newTestCoordinator(t *testing.T, harvesters map[paper.Source]Harvester) (*Coordinator, *memory.PaperStore, *storeSink) {
	t.Helper()
	store := memory.NewPaperStore(nil, nil)
	sink := newStoreSink(store)
	c := NewCoordinator(
		context.Background(),
		harvesters,
		NewGate(store),
		sink,
		NewTracker(nil),
		Config{DefaultWorkers: 2, IngestRetry: NewRetryPolicy(2, time.Millisecond, 2*time.Millisecond)},
		nil,
	)
	return c, store, sink
}

func TestCoordinator_ConcurrentStartRejectsSecond(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	blocking := HarvesterFunc(func(ctx context.Context, _ Request, stop *StopSignal, _ Yield) error {
		select {
		case <-release:
		case <-stop.Done():
		}
		return nil
	})
	c, _, _ := newTestCoordinator(t, map[paper.Source]Harvester{paper.SourcePortal1: blocking})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := c.StartJob(Request{Source: paper.SourcePortal1})
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	accepted, rejected := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrAlreadyRunning):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, rejected)

	close(release)
	c.Wait()
	require.False(t, c.Status().Running)
}

func TestCoordinator_RejectsWithoutSideEffects(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCoordinator(t, map[paper.Source]Harvester{
		paper.SourcePortal1: sliceHarvester(nil, 0, nil),
	})

	require.ErrorIs(t, c.RequestStop(), ErrNotRunning)
	require.ErrorIs(t, c.StartJob(Request{Source: "portal9"}), ErrUnknownSource)
	require.ErrorIs(t, c.StartJob(Request{Source: paper.SourceAll}), ErrUnknownSource)

	snap := c.Status()
	require.False(t, snap.Running)
	require.Nil(t, snap.StartedAt)
}

func TestCoordinator_IdempotentIngestion(t *testing.T) {
	t.Parallel()

	records := []paper.Record{
		rec("https://a/1.pdf", "CHE-2104", "2019"),
		rec("https://a/2.pdf", "MME-2202", "2019"),
	}
	c, store, _ := newTestCoordinator(t, map[paper.Source]Harvester{
		paper.SourcePortal1: sliceHarvester(records, 0, nil),
	})

	require.NoError(t, c.StartJob(Request{Source: paper.SourcePortal1}))
	c.Wait()
	snap := c.Status()
	require.Equal(t, 2, snap.Accepted)
	require.Equal(t, "Completed! Scraped 2 papers, skipped 0.", snap.Message)
	require.Equal(t, ResultCompleted, snap.Result)

	require.NoError(t, c.StartJob(Request{Source: paper.SourcePortal1}))
	c.Wait()
	snap = c.Status()
	require.Zero(t, snap.Accepted)
	require.Equal(t, 2, snap.Skipped)
	require.Equal(t, 2, store.Len())

	stored, err := store.List(context.Background(), paper.Filter{})
	require.NoError(t, err)
	for _, r := range stored {
		require.Equal(t, paper.SourcePortal1, r.Source)
	}
}

func TestCoordinator_FingerprintDedupAcrossLocators(t *testing.T) {
	t.Parallel()

	records := []paper.Record{
		rec("https://a/2019/III Sem/Thermo.pdf", "CHE-2104", "2019"),
		rec("https://b/mirror/Thermo-copy.pdf", "CHE-2104", "2019"),
	}
	c, store, _ := newTestCoordinator(t, map[paper.Source]Harvester{
		paper.SourcePortal2: sliceHarvester(records, 0, nil),
	})

	require.NoError(t, c.StartJob(Request{Source: paper.SourcePortal2}))
	c.Wait()
	require.Equal(t, 1, store.Len())
	snap := c.Status()
	require.Equal(t, 1, snap.Accepted)
	require.Equal(t, 1, snap.Skipped)
	require.Contains(t, snap.Message, "Completed!")
}

func TestCoordinator_StopMidStream(t *testing.T) {
	t.Parallel()

	var records []paper.Record
	for i := 0; i < 50; i++ {
		records = append(records, rec(fmt.Sprintf("https://a/%d.pdf", i), "", ""))
	}
	yielded := make(chan int, len(records))
	c, store, _ := newTestCoordinator(t, map[paper.Source]Harvester{
		paper.SourcePortal1: sliceHarvester(records, 5*time.Millisecond, yielded),
	})

	require.NoError(t, c.StartJob(Request{Source: paper.SourcePortal1}))
	for i := 0; i < 3; i++ {
		<-yielded
	}
	require.NoError(t, c.RequestStop())
	require.True(t, c.Status().StopRequested)
	atStop := store.Len()
	c.Wait()

	snap := c.Status()
	require.False(t, snap.Running)
	require.False(t, snap.StopRequested)
	require.LessOrEqual(t, snap.Accepted+snap.Skipped, len(records))
	require.Equal(t, snap.Accepted, store.Len())
	require.LessOrEqual(t, store.Len()-atStop, 1, "at most the in-flight record lands after stop")
	require.Less(t, store.Len(), len(records))
	require.Contains(t, snap.Message, "Stopped early.")
	require.Equal(t, ResultStopped, snap.Result)

	require.ErrorIs(t, c.RequestStop(), ErrNotRunning)
}

func TestCoordinator_FatalHarvesterError(t *testing.T) {
	t.Parallel()

	failing := HarvesterFunc(func(_ context.Context, _ Request, _ *StopSignal, yield Yield) error {
		yield(rec("https://a/1.pdf", "", ""))
		return errors.New("listing fetch: status 503")
	})
	c, _, _ := newTestCoordinator(t, map[paper.Source]Harvester{paper.SourcePortal1: failing})

	require.NoError(t, c.StartJob(Request{Source: paper.SourcePortal1}))
	c.Wait()

	snap := c.Status()
	require.False(t, snap.Running)
	require.Equal(t, 1, snap.Accepted)
	require.Equal(t, ResultFailed, snap.Result)
	require.Contains(t, snap.Message, "Scrape failed")
	require.Contains(t, snap.Errors[len(snap.Errors)-1], "status 503")
}

func TestCoordinator_PanicClearsRunning(t *testing.T) {
	t.Parallel()

	panicking := HarvesterFunc(func(context.Context, Request, *StopSignal, Yield) error {
		panic("boom")
	})
	c, _, _ := newTestCoordinator(t, map[paper.Source]Harvester{paper.SourcePortal1: panicking})

	require.NoError(t, c.StartJob(Request{Source: paper.SourcePortal1}))
	c.Wait()

	snap := c.Status()
	require.False(t, snap.Running)
	require.Equal(t, ResultFailed, snap.Result)
	require.Contains(t, snap.Message, "Scrape failed")
	require.NoError(t, c.StartJob(Request{Source: paper.SourcePortal1}))
	c.Wait()
}

func TestCoordinator_IngestRetriesOnce(t *testing.T) {
	t.Parallel()

	records := []paper.Record{
		rec("https://a/flaky.pdf", "", ""),
		rec("https://a/broken.pdf", "", ""),
		rec("https://a/fine.pdf", "", ""),
	}
	c, store, sink := newTestCoordinator(t, map[paper.Source]Harvester{
		paper.SourcePortal1: sliceHarvester(records, 0, nil),
	})
	sink.failFirst("https://a/flaky.pdf", 1)
	sink.failFirst("https://a/broken.pdf", 5)

	require.NoError(t, c.StartJob(Request{Source: paper.SourcePortal1}))
	c.Wait()

	snap := c.Status()
	require.Equal(t, 2, snap.Accepted)
	require.Equal(t, 1, snap.Failed)
	require.Zero(t, snap.Skipped)
	require.Len(t, snap.Errors, 1)
	require.Contains(t, snap.Errors[0], "Paper https://a/broken.pdf")
	require.Equal(t, 2, sink.callsFor("https://a/flaky.pdf"))
	require.Equal(t, 2, sink.callsFor("https://a/broken.pdf"))
	require.Equal(t, 2, store.Len())
}

func TestCoordinator_BothSourcesRunSequentially(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		order []paper.Source
	)
	tagging := func(src paper.Source, url string) Harvester {
		return HarvesterFunc(func(_ context.Context, req Request, _ *StopSignal, yield Yield) error {
			mu.Lock()
			order = append(order, req.Source)
			mu.Unlock()
			yield(rec(url, "", ""))
			return nil
		})
	}
	c, store, sink := newTestCoordinator(t, map[paper.Source]Harvester{
		paper.SourcePortal1: tagging(paper.SourcePortal1, "https://a/1.pdf"),
		paper.SourcePortal2: tagging(paper.SourcePortal2, "https://b/1.pdf"),
	})
	sink.warnings = []string{"upload skipped"}

	require.NoError(t, c.StartJob(Request{Source: paper.SourceAll, Workers: 99}))
	c.Wait()

	require.Equal(t, []paper.Source{paper.SourcePortal1, paper.SourcePortal2}, order)
	require.Equal(t, 2, store.Len())
	snap := c.Status()
	require.Equal(t, 2, snap.Accepted)
	require.Equal(t, []string{"upload skipped", "upload skipped"}, snap.Errors)

	stored, err := store.List(context.Background(), paper.Filter{})
	require.NoError(t, err)
	require.Equal(t, paper.SourcePortal2, stored[0].Source)
	require.Equal(t, paper.SourcePortal1, stored[1].Source)
}

func TestCoordinator_BaseContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	waiting := HarvesterFunc(func(ctx context.Context, _ Request, _ *StopSignal, _ Yield) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	store := memory.NewPaperStore(nil, nil)
	c := NewCoordinator(ctx, map[paper.Source]Harvester{paper.SourcePortal1: waiting},
		NewGate(store), newStoreSink(store), nil, Config{}, nil)

	require.NoError(t, c.StartJob(Request{Source: paper.SourcePortal1}))
	<-started
	cancel()
	c.Wait()
	snap := c.Status()
	require.False(t, snap.Running)
	require.Contains(t, snap.Message, "Stopped early.")
}
