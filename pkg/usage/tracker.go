// Package usage records fine-grained usage events for billing and analytics.
// Recording is best-effort and batched: events accumulate in memory and are
// flushed to the audit log when the batch fills, on a timer, or at shutdown.
// A flush failure re-queues the whole batch, so duplicates are possible but
// silent loss is not.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonai/agentstore/pkg/observability"
	"github.com/halcyonai/agentstore/pkg/store"
	"github.com/halcyonai/agentstore/pkg/tenant"
)

// Operation names as recorded in the audit log.
const (
	OpUpload        = "upload"
	OpDownload      = "download"
	OpDelete        = "delete"
	OpDatasetCreate = "dataset_create"
	OpDatasetRead   = "dataset_read"
	OpDatasetDelete = "dataset_delete"
	OpCall          = "call"
)

// Event is one usage observation. Timestamp is stamped at TrackEvent time
// when left zero.
type Event struct {
	OrganizationID string
	TeamID         string
	UserID         string
	Operation      string
	Resource       string
	ResourceID     string
	SizeBytes      int64
	Success        bool
	// Denied marks operations rejected by policy or quota before they ran,
	// as opposed to operations that ran and failed.
	Denied    bool
	Timestamp time.Time
	Metadata  map[string]interface{}
}

const (
	// DefaultBatchSize is the queue length that triggers an automatic flush.
	DefaultBatchSize = 50
	// DefaultFlushInterval bounds how long a partial batch can sit queued.
	DefaultFlushInterval = 30 * time.Second

	flushTimeout = 15 * time.Second
)

// Tracker queues events and flushes them to the store's audit log.
type Tracker struct {
	store         store.Store
	logger        *observability.Logger
	metrics       *observability.Metrics
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	queue  []*Event
	closed bool

	stop chan struct{}
	done chan struct{}
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithBatchSize sets the queue length that triggers an automatic flush.
func WithBatchSize(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.batchSize = n
		}
	}
}

// WithFlushInterval sets the periodic flush interval. Zero disables the timer.
func WithFlushInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.flushInterval = d }
}

// WithMetrics wires tracker metrics.
func WithMetrics(metrics *observability.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = metrics }
}

// NewTracker creates a tracker and starts its periodic flush loop.
func NewTracker(st store.Store, logger *observability.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:         st,
		logger:        logger,
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.flushLoop()
	return t
}

func (t *Tracker) flushLoop() {
	defer close(t.done)
	if t.flushInterval <= 0 {
		<-t.stop
		return
	}
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.flushWithTimeout()
		case <-t.stop:
			return
		}
	}
}

func (t *Tracker) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	t.Flush(ctx)
}

// TrackEvent queues one event. Reaching the batch size triggers a flush
// inline; flush failures are logged and re-queued, never surfaced here.
func (t *Tracker) TrackEvent(ctx context.Context, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.logger.WithField("operation", event.Operation).Warn("usage event dropped after tracker close")
		return
	}
	t.queue = append(t.queue, event)
	depth := len(t.queue)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.UsageEventsQueued.Inc()
		t.metrics.UsageQueueDepth.Set(float64(depth))
	}
	if depth >= t.batchSize {
		t.Flush(ctx)
	}
}

// Flush drains the queue, grouping events by organization and appending each
// to that organization's audit log. If any append fails the entire original
// batch is pushed back to the front of the queue for the next attempt.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	if len(t.queue) == 0 {
		t.mu.Unlock()
		return
	}
	batch := t.queue
	t.queue = nil
	t.mu.Unlock()

	byOrg := make(map[string][]*Event)
	for _, event := range batch {
		byOrg[event.OrganizationID] = append(byOrg[event.OrganizationID], event)
	}

	var flushErr error
	for orgID, events := range byOrg {
		for _, event := range events {
			if err := t.store.AppendAuditLog(ctx, auditEntryFor(event)); err != nil {
				flushErr = fmt.Errorf("failed to append usage event for org %s: %w", orgID, err)
				break
			}
		}
		if flushErr != nil {
			break
		}
	}

	if flushErr != nil {
		t.mu.Lock()
		t.queue = append(batch, t.queue...)
		depth := len(t.queue)
		t.mu.Unlock()
		if t.metrics != nil {
			t.metrics.UsageFlushesTotal.WithLabelValues("requeued").Inc()
			t.metrics.UsageQueueDepth.Set(float64(depth))
		}
		t.logger.WithError(flushErr).WithField("batch_size", len(batch)).Warn("usage flush failed, batch re-queued")
		return
	}

	if t.metrics != nil {
		t.metrics.UsageFlushesTotal.WithLabelValues("ok").Inc()
		t.mu.Lock()
		depth := len(t.queue)
		t.mu.Unlock()
		t.metrics.UsageQueueDepth.Set(float64(depth))
	}
}

// Close stops the flush loop and performs a final flush. Events tracked after
// Close are dropped.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	close(t.stop)
	<-t.done
	t.Flush(ctx)
}

func auditEntryFor(event *Event) *tenant.AuditEntry {
	result := tenant.AuditResultSuccess
	switch {
	case event.Denied:
		result = tenant.AuditResultDenied
	case !event.Success:
		result = tenant.AuditResultFailure
	}

	metadata := make(map[string]interface{}, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		metadata[k] = v
	}
	if event.SizeBytes > 0 {
		metadata["size_bytes"] = event.SizeBytes
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	return &tenant.AuditEntry{
		ID:             uuid.NewString(),
		OrganizationID: event.OrganizationID,
		TeamID:         event.TeamID,
		UserID:         event.UserID,
		Action:         event.Operation,
		Resource:       event.Resource,
		ResourceID:     event.ResourceID,
		Timestamp:      event.Timestamp,
		Result:         result,
		Metadata:       metadata,
	}
}
