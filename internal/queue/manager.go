package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/audiodock/pkg/logger"
)

const defaultEventBuffer = 256

// Manager owns the ordered item collection and runs at most one download
// worker at a time. Items are processed strictly in submission order; a
// failed item never stops its successors. All state transitions are
// published to the event channel for the observer.
type Manager struct {
	mu      sync.Mutex
	items   []*Item
	running bool

	// Shared cancellation signal for the current batch. Workers observe it
	// cooperatively: before the fetch starts and inside every progress
	// callback. Replaced on every Start.
	batchCtx    context.Context
	batchCancel context.CancelFunc

	batchTotal     int
	batchCompleted int

	engine Engine
	tags   TagWriter
	opts   FetchOptions

	events chan Event
}

// NewManager creates a queue manager. The tag writer may be nil to skip the
// post-processing step.
func NewManager(engine Engine, tags TagWriter, opts FetchOptions) *Manager {
	return &Manager{
		engine: engine,
		tags:   tags,
		opts:   opts,
		events: make(chan Event, defaultEventBuffer),
	}
}

// SetOptions swaps the fetch options used for subsequently fetched items.
// The item currently downloading keeps the options it started with.
func (m *Manager) SetOptions(opts FetchOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
}

// Events returns the channel the observer consumes. Events for one item are
// ordered; the consumer must tolerate coalesced delivery of progress.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// AddItems appends one pending item per non-blank query, in input order, and
// returns the assigned IDs. Items added while a batch is running join that
// batch and are picked up when the current item terminates.
func (m *Manager) AddItems(queries []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		item := newItem(q)
		m.items = append(m.items, item)
		ids = append(ids, item.ID)
		if m.running {
			m.batchTotal++
		}
		logger.Infof("📥 Queued: %s (item: %s)", item.Title, item.ID)
		m.publish(Event{Kind: EventItemStatus, ItemID: item.ID, Status: StatusPending})
	}
	return ids
}

// Start begins processing the first pending item. No-op if already running
// or nothing is pending. A fresh cancellation signal is armed for the batch.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	first := m.firstPendingLocked()
	if first == nil {
		m.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.batchCtx, m.batchCancel = ctx, cancel
	m.running = true
	m.batchTotal = m.countPendingLocked()
	m.batchCompleted = 0

	m.claimLocked(first)
	m.mu.Unlock()

	logger.Infof("▶️  Queue started (%d item(s))", m.batchTotal)
	go m.work(ctx, first)
}

// CancelAll sets the shared cancellation signal. Every still-pending item is
// marked canceled before the call returns; the in-flight worker observes the
// signal at its next checkpoint and cancels its own item. Does not block
// waiting for the active worker.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.batchCancel != nil {
		m.batchCancel()
	}

	for _, item := range m.items {
		if item.Status == StatusPending {
			item.Status = StatusCanceled
			item.Error = "canceled by user"
			item.FinishedAt = time.Now()
			m.publish(Event{Kind: EventItemStatus, ItemID: item.ID, Status: StatusCanceled, Error: item.Error})
		}
	}
	m.running = false

	logger.Info("🛑 Cancel requested, pending items dropped")
}

// Clear discards all items. Returns an error while a batch is running.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("queue is running, cancel first")
	}
	m.items = nil
	return nil
}

// Running reports whether a batch is being processed.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Items returns a value snapshot of the ordered collection for rendering.
func (m *Manager) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Item, len(m.items))
	for i, item := range m.items {
		out[i] = *item
	}
	return out
}

// Item returns a snapshot of one item by ID.
func (m *Manager) Item(id string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items {
		if item.ID == id {
			return *item, true
		}
	}
	return Item{}, false
}

// Stats returns per-status counts.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := map[string]int{
		"total":       len(m.items),
		"pending":     0,
		"resolving":   0,
		"downloading": 0,
		"complete":    0,
		"error":       0,
		"canceled":    0,
	}
	for _, item := range m.items {
		stats[item.Status.String()]++
	}
	return stats
}

func (m *Manager) firstPendingLocked() *Item {
	for _, item := range m.items {
		if item.Status == StatusPending {
			return item
		}
	}
	return nil
}

func (m *Manager) countPendingLocked() int {
	n := 0
	for _, item := range m.items {
		if item.Status == StatusPending {
			n++
		}
	}
	return n
}

// claimLocked moves an item out of pending so the onItemDone scan cannot
// pick it twice.
func (m *Manager) claimLocked(item *Item) {
	item.Status = StatusResolving
	item.StartedAt = time.Now()
	m.publish(Event{Kind: EventItemStatus, ItemID: item.ID, Status: StatusResolving})
}

// work processes a single claimed item against the engine, then hands
// control back to the manager. Exactly one work goroutine exists at a time.
func (m *Manager) work(ctx context.Context, item *Item) {
	defer m.onItemDone()

	if ctx.Err() != nil {
		m.cancelItem(item)
		return
	}

	logger.Infof("🔍 Resolving: %s (item: %s)", item.Query, item.ID)

	resolved, err := m.engine.Resolve(ctx, item.Query)
	if err != nil {
		if ctx.Err() != nil {
			m.cancelItem(item)
		} else {
			m.failItem(item, err)
		}
		return
	}

	m.setResolved(item, resolved)

	if ctx.Err() != nil {
		m.cancelItem(item)
		return
	}

	logger.Infof("⬇️  Downloading: %s - %s (item: %s)", item.Artist, item.Title, item.ID)

	m.mu.Lock()
	opts := m.opts
	m.mu.Unlock()

	path, err := m.engine.Fetch(ctx, resolved.CanonicalURL, opts, func(downloaded, total int64) {
		if ctx.Err() != nil {
			return
		}
		m.updateProgress(item, downloaded, total)
	})
	if err != nil {
		if ctx.Err() != nil {
			m.cancelItem(item)
		} else {
			m.failItem(item, err)
		}
		return
	}

	warning := m.writeTags(ctx, item, path)
	m.completeItem(item, path, warning)
}

// writeTags runs the post-processing tag rewrite. A failure here demotes
// nothing: the audio asset is valid, so the item completes with a warning.
func (m *Manager) writeTags(ctx context.Context, item *Item, path string) string {
	if m.tags == nil {
		return ""
	}

	m.mu.Lock()
	fields := TagFields{Title: item.Title, Artist: item.Artist}
	m.mu.Unlock()

	if err := m.tags.WriteTags(ctx, path, fields); err != nil {
		logger.Warnf("⚠️ Tag write failed for %s: %v", path, err)
		return truncate(fmt.Sprintf("tags not written: %v", err), maxErrorLen)
	}
	return ""
}

func (m *Manager) setResolved(item *Item, resolved ResolvedTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.Status.IsTerminal() {
		return
	}

	if resolved.Title != "" {
		item.Title = truncate(resolved.Title, maxTitleLen)
	}
	item.Artist = resolved.Artist
	item.PreviewURL = resolved.CanonicalURL
	m.publish(Event{
		Kind:       EventItemResolved,
		ItemID:     item.ID,
		Title:      item.Title,
		Artist:     item.Artist,
		PreviewURL: item.PreviewURL,
	})

	item.Status = StatusDownloading
	m.publish(Event{Kind: EventItemStatus, ItemID: item.ID, Status: StatusDownloading})
}

// updateProgress folds a raw byte count into the item's percent. Progress is
// clamped non-decreasing; an unknown total is surfaced as indeterminate
// instead of a fabricated percent.
func (m *Manager) updateProgress(item *Item, downloaded, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.Status != StatusDownloading {
		return
	}

	if total <= 0 {
		m.publishDroppable(Event{
			Kind:          EventItemProgress,
			ItemID:        item.ID,
			Progress:      item.Progress,
			Indeterminate: true,
		})
		return
	}

	pct := int(downloaded * 100 / total)
	if pct > 100 {
		pct = 100
	}
	if pct < item.Progress {
		return
	}
	item.Progress = pct
	m.publishDroppable(Event{Kind: EventItemProgress, ItemID: item.ID, Progress: pct})
}

func (m *Manager) completeItem(item *Item, path, warning string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.Status.IsTerminal() {
		return
	}

	if item.Progress < 100 {
		item.Progress = 100
		m.publish(Event{Kind: EventItemProgress, ItemID: item.ID, Progress: 100})
	}

	item.Status = StatusComplete
	item.FilePath = path
	item.Warning = warning
	item.FinishedAt = time.Now()
	m.batchCompleted++
	m.publish(Event{Kind: EventItemStatus, ItemID: item.ID, Status: StatusComplete, Error: warning})

	logger.Infof("✅ Complete: %s (item: %s)", path, item.ID)
}

func (m *Manager) failItem(item *Item, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.Status.IsTerminal() {
		return
	}

	item.Status = StatusError
	item.Error = truncate(err.Error(), maxErrorLen)
	item.FinishedAt = time.Now()
	m.publish(Event{Kind: EventItemStatus, ItemID: item.ID, Status: StatusError, Error: item.Error})

	logger.Errorf("❌ Item %s failed: %v", item.ID, err)
}

func (m *Manager) cancelItem(item *Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.Status.IsTerminal() {
		return
	}

	item.Status = StatusCanceled
	item.Error = "canceled by user"
	item.FinishedAt = time.Now()
	m.publish(Event{Kind: EventItemStatus, ItemID: item.ID, Status: StatusCanceled, Error: item.Error})

	logger.Infof("🛑 Canceled: %s (item: %s)", item.Query, item.ID)
}

// onItemDone advances to the next pending item, or ends the batch when none
// remain. Invoked by the worker after its item reached a terminal state.
func (m *Manager) onItemDone() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}

	next := m.firstPendingLocked()
	if next != nil {
		ctx := m.batchCtx
		m.claimLocked(next)
		m.mu.Unlock()
		go m.work(ctx, next)
		return
	}

	m.running = false
	completed, total := m.batchCompleted, m.batchTotal
	m.publish(Event{Kind: EventBatchComplete, CompletedCount: completed, TotalCount: total})
	m.mu.Unlock()

	logger.Infof("🏁 Batch complete: %d/%d succeeded", completed, total)
}

// publish sends an event without ever blocking the worker. A full buffer is
// logged because non-progress events should normally all be consumed.
func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		logger.Warnf("⚠️ Event channel full, dropping %s event", ev.Kind)
	}
}

// publishDroppable is for coalescable progress updates; dropping them under
// load is expected and silent.
func (m *Manager) publishDroppable(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}
