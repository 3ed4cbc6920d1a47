package follower

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opentracing/opentracing-go"

	"github.com/sentrysync/metafollower/common/logging"
)

// FollowerLoop is the orchestrator tying together the persistence gateway,
// upstream metastore client, notification processor, counter-wait
// rendezvous, leader monitor and refresh signal on a periodic tick. It is
// strictly single-threaded within a process; concurrency with external
// readers is mediated exclusively through PersistenceGateway and
// CounterWait.
type FollowerLoop struct {
	gateway   PersistenceGateway
	client    MetastoreClient
	processor NotificationProcessor
	leader    LeaderMonitor
	refresh   *RefreshSignal

	fetcher     *NotificationFetcher
	counterWait *CounterWait
	status      *FollowerStatus

	cfg     Config
	logger  *logging.Logger
	metrics *metricsSet
	tracer  opentracing.Tracer

	connected   bool
	tickBackoff *backoff.ExponentialBackOff
}

// New constructs a FollowerLoop. leader may be nil, in which case the
// follower always behaves as leader (single-node mode). refresh may be nil
// to disable the operator-triggered rebuild rule entirely.
func New(
	cfg Config,
	gateway PersistenceGateway,
	client MetastoreClient,
	processor NotificationProcessor,
	leader LeaderMonitor,
	refresh *RefreshSignal,
) *FollowerLoop {
	if leader == nil {
		leader = AlwaysLeader{}
	}

	tb := backoff.NewExponentialBackOff()
	tb.InitialInterval = 500 * time.Millisecond
	tb.MaxInterval = 30 * time.Second
	tb.MaxElapsedTime = 0 // never give up; the scheduler just keeps ticking

	return &FollowerLoop{
		gateway:     gateway,
		client:      client,
		processor:   processor,
		leader:      leader,
		refresh:     refresh,
		fetcher:     NewNotificationFetcher(client, cfg.FetcherCacheSize),
		counterWait: NewCounterWait(),
		status:      NewFollowerStatus(),
		cfg:         cfg,
		logger:      logging.GetLogger("follower/loop"),
		metrics:     newMetricsSet(cfg.AuthzServerName),
		tracer:      opentracing.GlobalTracer(),
		tickBackoff: tb,
	}
}

// CounterWait returns the shared waiter rendezvous external clients block
// on (e.g. "wait until event N has been applied").
func (l *FollowerLoop) CounterWait() *CounterWait { return l.counterWait }

// Status returns a point-in-time snapshot of the follower's internal state.
func (l *FollowerLoop) Status() Status { return l.status.Snapshot() }

func (l *FollowerLoop) isLeader() bool { return l.leader.IsLeader() }

// Run drives the loop on cfg.TickInterval until ctx is cancelled. Each tick
// that fails to progress (connect failure, persistence read failure) adds a
// jittered extra delay on top of the fixed interval, via an exponential
// backoff that resets on the first subsequent success — a second, coarser
// layer of resiliency distinct from the gRPC client's own per-RPC retries.
func (l *FollowerLoop) Run(ctx context.Context) {
	for {
		progressed := l.Tick(ctx)

		delay := l.cfg.TickInterval
		if !progressed {
			delay += l.tickBackoff.NextBackOff()
		} else {
			l.tickBackoff.Reset()
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// Tick performs one full follower pass. It never lets an error
// propagate to the caller; every failure is logged and the tick aborts,
// to be retried on the next call. It returns whether the tick made forward
// progress (used by Run to decide whether to apply backoff).
func (l *FollowerLoop) Tick(ctx context.Context) (progressed bool) {
	span := l.tracer.StartSpan("follower.tick")
	defer span.Finish()
	ctx = opentracing.ContextWithSpan(ctx, span)

	start := time.Now()
	defer func() {
		l.metrics.tickDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			l.logger.Error("tick panicked, aborting", "panic", fmt.Sprintf("%v", r))
			progressed = false
		}
	}()

	// Step 1: read maxNotificationId.
	maxNotificationID, err := l.gateway.GetMaxNotificationID(ctx)
	if err != nil {
		l.logger.Error("failed to read persisted bookkeeping, aborting tick", "err", err)
		return false
	}
	l.metrics.setMaxNotificationID(maxNotificationID)

	// Step 2: unconditionally release waiters pinned to already-applied ids,
	// even on non-leader replicas.
	l.counterWait.Update(maxNotificationID)

	if lastImageID, ierr := l.gateway.GetLastImageID(ctx); ierr == nil {
		l.metrics.setLastImageID(lastImageID)
		// lastImageId is read fresh every tick and never cached across
		// ticks. When it has moved past the in-memory hmsImageId, a full
		// snapshot has re-based the event-id axis: raise hmsImageId and
		// re-base the counter on this tick's maxNotificationId.
		if lastImageID > l.status.HMSImageID() {
			l.status.SetHMSImageID(lastImageID)
			l.counterWait.SetBaseline(maxNotificationID)
		}
	}

	// Step 3: leader gating.
	if !l.isLeader() {
		l.teardownConnection()
		return true
	}

	// Step 4: ensure upstream connection.
	if !l.connected {
		if cerr := l.client.Connect(ctx); cerr != nil {
			l.logger.Error("failed to connect to upstream metastore, retrying next tick", "err", cerr)
			return false
		}
		l.connected = true
		l.status.SetConnected(true)
		l.metrics.setConnected(true)
	}

	// Step 5: one-time ready marker. Readiness means "connected and
	// beginning to operate", independent of whether this particular tick
	// takes the snapshot or incremental path.
	if l.status.MarkReady() {
		fmt.Println("metastore follower ready")
		l.logger.Info("follower ready", logging.LogEvent, "follower.ready")
	}

	// Step 6: full-snapshot decision.
	needsSnapshot, derr := l.needsFullSnapshot(ctx, maxNotificationID)
	if derr != nil {
		l.logger.Error("failed to evaluate snapshot decision, closing connection", "err", derr)
		l.teardownConnection()
		return false
	}
	if needsSnapshot {
		return l.runFullSnapshot(ctx)
	}

	// Step 7: incremental fetch.
	events, ferr := l.fetcher.Fetch(ctx, maxNotificationID)
	if ferr != nil {
		if ferr == ErrOutOfSync {
			l.logger.Warn("upstream out of sync, falling back to full snapshot", "after", maxNotificationID)
			return l.runFullSnapshot(ctx)
		}
		l.logger.Error("failed to fetch notifications, closing connection", "err", ferr)
		l.teardownConnection()
		return false
	}

	// Step 8: process the batch.
	if perr := l.processBatch(ctx, maxNotificationID, events); perr != nil {
		l.logger.Error("batch processing failed, closing connection", "err", perr)
		l.teardownConnection()
		return false
	}

	return true
}

func (l *FollowerLoop) runFullSnapshot(ctx context.Context) bool {
	if !l.status.BeginFullUpdate() {
		l.logger.Error("full update already running, this is a contract violation")
		return false
	}
	defer l.status.EndFullUpdate()

	imageID, err := l.takeSnapshot(ctx)
	if err != nil {
		l.logger.Error("failed to take full snapshot, closing connection", "err", err)
		l.teardownConnection()
		return false
	}
	if imageID == EmptyID {
		// Abandoned: lost leadership between fetch and persist, or client
		// returned the sentinel directly. Not an error; retried next tick.
		return false
	}
	return true
}

// processBatch processes each fetched event in id order,
// detecting gaps/duplicates, re-checking leadership before each apply, and
// advancing bookkeeping even for semantically no-op events.
func (l *FollowerLoop) processBatch(ctx context.Context, seedID int64, events []Event) error {
	prev := seedID

	for _, event := range events {
		if event.ID == prev {
			l.logger.Warn("duplicate event id in batch", "event_id", event.ID)
		} else if event.ID != prev+1 {
			l.logger.Warn("gap in event id sequence", "expected", prev+1, "got", event.ID)
		}
		prev = event.ID

		if !l.isLeader() {
			l.logger.Info("lost leadership mid-batch, stopping cleanly", "last_applied", event.ID-1)
			return nil
		}

		applied, err := l.processor.ProcessEvent(ctx, event)
		switch {
		case err == ErrStorageConflict:
			maxID, merr := l.gateway.GetMaxNotificationID(ctx)
			if merr != nil {
				return merr
			}
			if event.ID <= maxID {
				l.logger.Info("event already durable, stopping batch for re-seek", "event_id", event.ID, "max_notification_id", maxID)
				return nil
			}
			// Continue rather than breaking defensively: this design's
			// single-writer assumption means a higher already-durable id
			// can only arise here, never from a concurrent writer.
			l.logger.Warn("storage conflict above max notification id, continuing", "event_id", event.ID, "max_notification_id", maxID)
			continue

		case err != nil:
			l.logger.Error("failed to apply event, continuing", "event_id", event.ID, "err", err)
			continue

		case applied:
			l.fetcher.UpdateCache(event)

		default:
			l.fetcher.UpdateCache(event)
			if perr := l.gateway.PersistLastProcessedID(ctx, event.ID); perr != nil {
				return fmt.Errorf("follower: failed to persist no-op advance for event %d: %w", event.ID, perr)
			}
		}

		l.counterWait.Update(event.ID)
	}

	return nil
}

func (l *FollowerLoop) teardownConnection() {
	if !l.connected {
		return
	}
	l.client.Disconnect()
	l.connected = false
	l.status.SetConnected(false)
	l.metrics.setConnected(false)
}

// Close releases every resource the loop owns. Safe to call once, after the
// scheduler driving Run has stopped.
func (l *FollowerLoop) Close() {
	l.teardownConnection()
	l.fetcher.Close()
}
