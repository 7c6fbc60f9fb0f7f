package queue_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/audiodock/internal/queue"
	"github.com/audiodock/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(true)
	os.Exit(m.Run())
}

// fakeEngine lets each test script resolve/fetch behavior.
type fakeEngine struct {
	resolveFn func(ctx context.Context, query string) (queue.ResolvedTrack, error)
	fetchFn   func(ctx context.Context, url string, opts queue.FetchOptions, onProgress queue.ProgressFunc) (string, error)

	activeFetches int32
	maxActive     int32
}

func (f *fakeEngine) Resolve(ctx context.Context, query string) (queue.ResolvedTrack, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, query)
	}
	return queue.ResolvedTrack{
		Title:        "Title of " + query,
		Artist:       "Artist",
		CanonicalURL: "https://example.com/" + query,
	}, nil
}

func (f *fakeEngine) Fetch(ctx context.Context, url string, opts queue.FetchOptions, onProgress queue.ProgressFunc) (string, error) {
	n := atomic.AddInt32(&f.activeFetches, 1)
	defer atomic.AddInt32(&f.activeFetches, -1)
	for {
		prev := atomic.LoadInt32(&f.maxActive)
		if n <= prev || atomic.CompareAndSwapInt32(&f.maxActive, prev, n) {
			break
		}
	}

	if f.fetchFn != nil {
		return f.fetchFn(ctx, url, opts, onProgress)
	}
	if onProgress != nil {
		onProgress(50, 100)
	}
	return "/tmp/out.mp3", nil
}

type fakeTagWriter struct {
	err   error
	calls int32
}

func (f *fakeTagWriter) WriteTags(ctx context.Context, filePath string, fields queue.TagFields) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func testOptions() queue.FetchOptions {
	return queue.FetchOptions{
		Format:         queue.FormatMP3,
		Bitrate:        192,
		OutputTemplate: "/tmp/%(title)s.%(ext)s",
	}
}

func nextEvent(t *testing.T, ch <-chan queue.Event) queue.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return queue.Event{}
	}
}

// collectUntilBatchComplete drains events up to and including the batch
// completion marker.
func collectUntilBatchComplete(t *testing.T, ch <-chan queue.Event) []queue.Event {
	t.Helper()
	var events []queue.Event
	for {
		ev := nextEvent(t, ch)
		events = append(events, ev)
		if ev.Kind == queue.EventBatchComplete {
			return events
		}
	}
}

func waitForIdle(t *testing.T, m *queue.Manager) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Running() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("manager still running")
}

func TestSingleItemLifecycle(t *testing.T) {
	m := queue.NewManager(&fakeEngine{}, nil, testOptions())

	ids := m.AddItems([]string{"never gonna give you up"})
	if len(ids) != 1 {
		t.Fatalf("expected 1 id, got %d", len(ids))
	}
	m.Start()

	events := collectUntilBatchComplete(t, m.Events())

	wantKinds := []queue.EventKind{
		queue.EventItemStatus,    // pending
		queue.EventItemStatus,    // resolving
		queue.EventItemResolved,  // metadata final
		queue.EventItemStatus,    // downloading
		queue.EventItemProgress,  // 50%
		queue.EventItemProgress,  // forced 100%
		queue.EventItemStatus,    // complete
		queue.EventBatchComplete, // 1/1
	}
	if len(events) != len(wantKinds) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantKinds), len(events), events)
	}
	for i, kind := range wantKinds {
		if events[i].Kind != kind {
			t.Errorf("event %d: expected %s, got %s", i, kind, events[i].Kind)
		}
	}

	statuses := []queue.Status{}
	for _, ev := range events {
		if ev.Kind == queue.EventItemStatus {
			statuses = append(statuses, ev.Status)
		}
	}
	wantStatuses := []queue.Status{queue.StatusPending, queue.StatusResolving, queue.StatusDownloading, queue.StatusComplete}
	for i, s := range wantStatuses {
		if statuses[i] != s {
			t.Errorf("status %d: expected %s, got %s", i, s, statuses[i])
		}
	}

	final := events[len(events)-1]
	if final.CompletedCount != 1 || final.TotalCount != 1 {
		t.Errorf("expected batch 1/1, got %d/%d", final.CompletedCount, final.TotalCount)
	}

	waitForIdle(t, m)
	item, ok := m.Item(ids[0])
	if !ok {
		t.Fatal("item not found after completion")
	}
	if item.Status != queue.StatusComplete {
		t.Errorf("expected complete, got %s", item.Status)
	}
	if item.FilePath != "/tmp/out.mp3" {
		t.Errorf("unexpected file path: %s", item.FilePath)
	}
	if item.Progress != 100 {
		t.Errorf("expected progress 100, got %d", item.Progress)
	}
	if item.Title != "Title of never gonna give you up" {
		t.Errorf("unexpected title: %s", item.Title)
	}
}

func TestFailedItemDoesNotStopSuccessors(t *testing.T) {
	eng := &fakeEngine{
		resolveFn: func(ctx context.Context, query string) (queue.ResolvedTrack, error) {
			if query == "bad" {
				return queue.ResolvedTrack{}, errors.New("nothing found for this one, with some extra words to make the message exceed the hundred character persistence limit")
			}
			return queue.ResolvedTrack{Title: query, Artist: "A", CanonicalURL: "https://example.com/" + query}, nil
		},
	}
	m := queue.NewManager(eng, nil, testOptions())

	ids := m.AddItems([]string{"bad", "good"})
	m.Start()

	events := collectUntilBatchComplete(t, m.Events())
	final := events[len(events)-1]
	if final.CompletedCount != 1 || final.TotalCount != 2 {
		t.Errorf("expected batch 1/2, got %d/%d", final.CompletedCount, final.TotalCount)
	}

	waitForIdle(t, m)

	bad, _ := m.Item(ids[0])
	if bad.Status != queue.StatusError {
		t.Errorf("expected error status, got %s", bad.Status)
	}
	if bad.Error == "" || len(bad.Error) > 100 {
		t.Errorf("expected truncated error message, got %q (len %d)", bad.Error, len(bad.Error))
	}

	good, _ := m.Item(ids[1])
	if good.Status != queue.StatusComplete {
		t.Errorf("expected complete status, got %s", good.Status)
	}
}

func TestCancelAllStopsBatch(t *testing.T) {
	started := make(chan struct{})
	eng := &fakeEngine{
		fetchFn: func(ctx context.Context, url string, opts queue.FetchOptions, onProgress queue.ProgressFunc) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	m := queue.NewManager(eng, nil, testOptions())

	ids := m.AddItems([]string{"one", "two", "three"})
	m.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}

	m.CancelAll()

	// Pending items are canceled before CancelAll returns.
	for _, id := range ids[1:] {
		item, _ := m.Item(id)
		if item.Status != queue.StatusCanceled {
			t.Errorf("item %s: expected canceled, got %s", id, item.Status)
		}
		if item.Error != "canceled by user" {
			t.Errorf("item %s: unexpected error %q", id, item.Error)
		}
	}

	// The in-flight item observes the signal at its next checkpoint.
	deadline := time.Now().Add(2 * time.Second)
	for {
		item, _ := m.Item(ids[0])
		if item.Status == queue.StatusCanceled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("in-flight item never canceled, status %s", item.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if m.Running() {
		t.Error("manager still reports running after cancel")
	}

	// No batch completion after a cancel.
	drainDeadline := time.After(100 * time.Millisecond)
	for {
		select {
		case ev := <-m.Events():
			if ev.Kind == queue.EventBatchComplete {
				t.Error("unexpected batch completion after cancel")
			}
		case <-drainDeadline:
			return
		}
	}
}

func TestCanceledItemsStayCanceled(t *testing.T) {
	started := make(chan struct{})
	eng := &fakeEngine{
		fetchFn: func(ctx context.Context, url string, opts queue.FetchOptions, onProgress queue.ProgressFunc) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	m := queue.NewManager(eng, nil, testOptions())

	ids := m.AddItems([]string{"one", "two"})
	m.Start()
	<-started
	m.CancelAll()

	deadline := time.Now().Add(2 * time.Second)
	for m.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Restarting processes nothing: canceled is terminal.
	m.Start()
	time.Sleep(50 * time.Millisecond)

	for _, id := range ids {
		item, _ := m.Item(id)
		if item.Status != queue.StatusCanceled {
			t.Errorf("item %s: expected canceled to stick, got %s", id, item.Status)
		}
	}
	if m.Running() {
		t.Error("manager restarted with only terminal items")
	}
}

func TestProgressMonotonicAndClamped(t *testing.T) {
	eng := &fakeEngine{
		fetchFn: func(ctx context.Context, url string, opts queue.FetchOptions, onProgress queue.ProgressFunc) (string, error) {
			onProgress(60, 100)
			onProgress(30, 100)  // regression, must be ignored
			onProgress(150, 100) // overshoot, must clamp to 100
			return "/tmp/out.mp3", nil
		},
	}
	m := queue.NewManager(eng, nil, testOptions())

	m.AddItems([]string{"song"})
	m.Start()

	events := collectUntilBatchComplete(t, m.Events())

	var progress []int
	for _, ev := range events {
		if ev.Kind == queue.EventItemProgress {
			progress = append(progress, ev.Progress)
		}
	}

	want := []int{60, 100}
	if len(progress) != len(want) {
		t.Fatalf("expected progress %v, got %v", want, progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress %d: expected %d, got %d", i, want[i], progress[i])
		}
	}
}

func TestUnknownTotalIsIndeterminate(t *testing.T) {
	eng := &fakeEngine{
		fetchFn: func(ctx context.Context, url string, opts queue.FetchOptions, onProgress queue.ProgressFunc) (string, error) {
			onProgress(40, 100)
			onProgress(4096, 0) // size unknown
			return "/tmp/out.mp3", nil
		},
	}
	m := queue.NewManager(eng, nil, testOptions())

	m.AddItems([]string{"song"})
	m.Start()

	events := collectUntilBatchComplete(t, m.Events())

	sawIndeterminate := false
	for _, ev := range events {
		if ev.Kind == queue.EventItemProgress && ev.Indeterminate {
			sawIndeterminate = true
			// Last known percent is preserved, not fabricated.
			if ev.Progress != 40 {
				t.Errorf("indeterminate event: expected progress 40, got %d", ev.Progress)
			}
		}
	}
	if !sawIndeterminate {
		t.Error("expected an indeterminate progress event")
	}
}

func TestAtMostOneActiveDownload(t *testing.T) {
	eng := &fakeEngine{
		fetchFn: func(ctx context.Context, url string, opts queue.FetchOptions, onProgress queue.ProgressFunc) (string, error) {
			time.Sleep(10 * time.Millisecond)
			return "/tmp/out.mp3", nil
		},
	}
	m := queue.NewManager(eng, nil, testOptions())

	queries := make([]string, 5)
	for i := range queries {
		queries[i] = fmt.Sprintf("song %d", i)
	}
	m.AddItems(queries)
	m.Start()

	collectUntilBatchComplete(t, m.Events())
	waitForIdle(t, m)

	if max := atomic.LoadInt32(&eng.maxActive); max != 1 {
		t.Errorf("expected at most 1 concurrent fetch, observed %d", max)
	}
}

func TestAddItemsWhileRunningJoinsBatch(t *testing.T) {
	gate := make(chan struct{})
	first := make(chan struct{})
	var once atomic.Bool
	eng := &fakeEngine{
		fetchFn: func(ctx context.Context, url string, opts queue.FetchOptions, onProgress queue.ProgressFunc) (string, error) {
			if once.CompareAndSwap(false, true) {
				close(first)
				<-gate
			}
			return "/tmp/out.mp3", nil
		},
	}
	m := queue.NewManager(eng, nil, testOptions())

	m.AddItems([]string{"one", "two"})
	m.Start()

	<-first
	m.AddItems([]string{"three"})
	close(gate)

	events := collectUntilBatchComplete(t, m.Events())
	final := events[len(events)-1]
	if final.CompletedCount != 3 || final.TotalCount != 3 {
		t.Errorf("expected batch 3/3, got %d/%d", final.CompletedCount, final.TotalCount)
	}
}

func TestClearRefusedWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	eng := &fakeEngine{
		fetchFn: func(ctx context.Context, url string, opts queue.FetchOptions, onProgress queue.ProgressFunc) (string, error) {
			close(started)
			<-gate
			return "/tmp/out.mp3", nil
		},
	}
	m := queue.NewManager(eng, nil, testOptions())

	m.AddItems([]string{"song"})
	m.Start()
	<-started

	if err := m.Clear(); err == nil {
		t.Error("expected clear to be refused while running")
	}

	close(gate)
	collectUntilBatchComplete(t, m.Events())
	waitForIdle(t, m)

	if err := m.Clear(); err != nil {
		t.Errorf("clear after completion: %v", err)
	}
	if len(m.Items()) != 0 {
		t.Error("expected empty queue after clear")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	m := queue.NewManager(&fakeEngine{}, nil, testOptions())

	// No pending items: nothing happens.
	m.Start()
	if m.Running() {
		t.Error("manager running with empty queue")
	}

	gate := make(chan struct{})
	started := make(chan struct{})
	var once atomic.Bool
	eng := &fakeEngine{
		fetchFn: func(ctx context.Context, url string, opts queue.FetchOptions, onProgress queue.ProgressFunc) (string, error) {
			if once.CompareAndSwap(false, true) {
				close(started)
			}
			<-gate
			return "/tmp/out.mp3", nil
		},
	}
	m = queue.NewManager(eng, nil, testOptions())
	m.AddItems([]string{"song"})
	m.Start()
	<-started
	m.Start() // second call is a no-op
	close(gate)

	events := collectUntilBatchComplete(t, m.Events())
	final := events[len(events)-1]
	if final.CompletedCount != 1 || final.TotalCount != 1 {
		t.Errorf("expected batch 1/1, got %d/%d", final.CompletedCount, final.TotalCount)
	}
}

func TestTagFailureCompletesWithWarning(t *testing.T) {
	tagger := &fakeTagWriter{err: errors.New("ffmpeg exploded")}
	m := queue.NewManager(&fakeEngine{}, tagger, testOptions())

	ids := m.AddItems([]string{"song"})
	m.Start()

	events := collectUntilBatchComplete(t, m.Events())
	waitForIdle(t, m)

	item, _ := m.Item(ids[0])
	if item.Status != queue.StatusComplete {
		t.Fatalf("expected complete despite tag failure, got %s", item.Status)
	}
	if !strings.Contains(item.Warning, "tags not written") {
		t.Errorf("expected tag warning, got %q", item.Warning)
	}
	if item.Error != "" {
		t.Errorf("warning must not occupy the error field, got %q", item.Error)
	}

	for _, ev := range events {
		if ev.Kind == queue.EventItemStatus && ev.Status == queue.StatusComplete {
			if !strings.Contains(ev.Error, "tags not written") {
				t.Errorf("complete event should carry the warning, got %q", ev.Error)
			}
		}
	}

	if atomic.LoadInt32(&tagger.calls) != 1 {
		t.Errorf("expected exactly one tag write, got %d", tagger.calls)
	}
}

func TestAddItemsSkipsBlankQueries(t *testing.T) {
	m := queue.NewManager(&fakeEngine{}, nil, testOptions())

	ids := m.AddItems([]string{"  ", "song", "", "\t"})
	if len(ids) != 1 {
		t.Fatalf("expected 1 item, got %d", len(ids))
	}
	items := m.Items()
	if len(items) != 1 || items[0].Query != "song" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestItemsAreProcessedInOrder(t *testing.T) {
	var order []string
	eng := &fakeEngine{
		resolveFn: func(ctx context.Context, query string) (queue.ResolvedTrack, error) {
			order = append(order, query) // sequential worker, no race
			return queue.ResolvedTrack{Title: query, Artist: "A", CanonicalURL: "u"}, nil
		},
	}
	m := queue.NewManager(eng, nil, testOptions())

	m.AddItems([]string{"first", "second", "third"})
	m.Start()

	collectUntilBatchComplete(t, m.Events())
	waitForIdle(t, m)

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestStats(t *testing.T) {
	m := queue.NewManager(&fakeEngine{}, nil, testOptions())
	m.AddItems([]string{"one", "two"})

	stats := m.Stats()
	if stats["total"] != 2 || stats["pending"] != 2 {
		t.Errorf("unexpected stats: %v", stats)
	}

	m.Start()
	collectUntilBatchComplete(t, m.Events())
	waitForIdle(t, m)

	stats = m.Stats()
	if stats["complete"] != 2 || stats["pending"] != 0 {
		t.Errorf("unexpected stats after run: %v", stats)
	}
}
