// Package anchor orchestrates the asynchronous submit-to-ledger workflow
// for accepted evidence artifacts. It owns the anchoring state machine:
//
//	pending --submit succeeds--> confirmed
//	pending --submit fails-----> failed
//	failed  --retry------------> pending (re-enters the machine)
//
// Anchoring runs off the upload request path. The coordinator caps
// concurrent in-flight submissions and never holds a store lock across
// the ledger call; the store's guarded updates keep transitions atomic.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/casetrust/anchor/pkg/ledger"
	"github.com/casetrust/anchor/pkg/observability"
	"github.com/casetrust/anchor/pkg/record"
)

var (
	// ErrAlreadyInFlight means a submission for the artifact is already
	// running; the caller's request is a no-op, not a failure.
	ErrAlreadyInFlight = errors.New("anchor: submission already in flight")

	// ErrNotPending means Anchor was asked to submit a record that is
	// not in the pending state.
	ErrNotPending = errors.New("anchor: record not pending")
)

// Config tunes the coordinator.
type Config struct {
	// MaxInFlight caps concurrent ledger submissions. The ledger is
	// fee- and rate-limited; unbounded fan-out would resubmit into a
	// congested chain. Default 4.
	MaxInFlight int

	// MaxAttempts bounds automatic retries of ErrUnavailable within one
	// Anchor call. ErrRejected is never retried automatically. Default 3.
	MaxAttempts int

	// InitialBackoff seeds the exponential backoff between automatic
	// attempts. Default 500ms.
	InitialBackoff time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Coordinator drives anchoring for evidence records.
type Coordinator struct {
	store   record.Store
	client  ledger.Client
	logger  *slog.Logger
	metrics *observability.Metrics

	maxAttempts    int
	initialBackoff time.Duration

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewCoordinator creates a coordinator over the given store and ledger
// client. Both are injected; the coordinator owns no ambient state.
func NewCoordinator(store record.Store, client ledger.Client, cfg Config) *Coordinator {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		store:          store,
		client:         client,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		sem:            make(chan struct{}, cfg.MaxInFlight),
		inflight:       make(map[string]struct{}),
	}
}

// Enqueue schedules anchoring of an artifact in the background and
// returns immediately. The upload response never waits on the ledger.
func (c *Coordinator) Enqueue(artifactID string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sem <- struct{}{}
		defer func() { <-c.sem }()

		if err := c.Anchor(context.Background(), artifactID); err != nil {
			if errors.Is(err, ErrAlreadyInFlight) {
				return
			}
			c.logger.Error("background anchoring failed",
				"artifact_id", artifactID, "error", err)
		}
	}()
}

// Wait blocks until all background submissions have finished. Used on
// shutdown and in tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Anchor reads the record for artifactID (which must be pending),
// submits its fingerprint to the ledger and records the outcome. At most
// one submission per artifact is in flight at any time; concurrent calls
// for the same artifact return ErrAlreadyInFlight.
//
// Ledger failures are not propagated as anchoring errors: they are
// recorded on the evidence record as a failed status with last_error
// set, resolvable later via Retry.
func (c *Coordinator) Anchor(ctx context.Context, artifactID string) error {
	if !c.acquire(artifactID) {
		return ErrAlreadyInFlight
	}
	defer c.release(artifactID)

	rec, err := c.store.Get(ctx, artifactID)
	if err != nil {
		return fmt.Errorf("anchor: load record: %w", err)
	}
	if rec.Status != record.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, artifactID, rec.Status)
	}

	txRef, submitErr := c.submit(ctx, rec)
	if submitErr != nil {
		c.metrics.AnchorAttempt(ctx, "failed")
		c.logger.Warn("ledger submission failed",
			"artifact_id", artifactID, "case_id", rec.CaseID, "error", submitErr)
		if err := c.store.MarkFailed(ctx, artifactID, submitErr.Error()); err != nil {
			// The record may have been confirmed by a concurrent verify
			// reconciliation; a conflict here is not an error.
			if !errors.Is(err, record.ErrConflict) {
				return fmt.Errorf("anchor: record failure: %w", err)
			}
		}
		return nil
	}

	anchoredAt := time.Now().UTC()
	if err := c.store.MarkConfirmed(ctx, artifactID, txRef, anchoredAt); err != nil {
		if errors.Is(err, record.ErrConflict) {
			// Already confirmed through verification reconciliation.
			return nil
		}
		// Submitted but not recorded: the transaction may still
		// finalize on the ledger. Verify/Retry resolve this state.
		return fmt.Errorf("anchor: submitted %s as %s but status update failed: %w",
			artifactID, txRef, err)
	}

	c.metrics.AnchorAttempt(ctx, "confirmed")
	c.logger.Info("fingerprint anchored",
		"artifact_id", artifactID, "case_id", rec.CaseID,
		"tx_ref", txRef, "anchored_at", anchoredAt)
	return nil
}

// Retry re-drives a failed record back to pending and re-enters the
// anchoring machine. Idempotent: a pending record is left to the
// in-flight submission and a confirmed record is an explicit no-op that
// never resubmits to the ledger.
func (c *Coordinator) Retry(ctx context.Context, artifactID string) (record.Status, error) {
	rec, err := c.store.Get(ctx, artifactID)
	if err != nil {
		return "", err
	}

	switch rec.Status {
	case record.StatusConfirmed:
		return record.StatusConfirmed, nil
	case record.StatusPending:
		// Make sure an abandoned pending record (e.g. coordinator crash
		// before submit) gets picked up again; the in-flight guard
		// keeps this from double-submitting.
		c.Enqueue(artifactID)
		return record.StatusPending, nil
	case record.StatusFailed:
		if err := c.store.MarkPending(ctx, artifactID); err != nil {
			if errors.Is(err, record.ErrConflict) {
				// Lost a race with another retry; report current state.
				current, getErr := c.store.Get(ctx, artifactID)
				if getErr != nil {
					return "", getErr
				}
				return current.Status, nil
			}
			return "", err
		}
		c.Enqueue(artifactID)
		return record.StatusPending, nil
	default:
		return "", fmt.Errorf("anchor: unknown status %q for %s", rec.Status, artifactID)
	}
}

// submit performs the ledger write with exponential backoff on transient
// unavailability. A rejection is permanent within one Anchor call.
func (c *Coordinator) submit(ctx context.Context, rec *record.Record) (string, error) {
	sub := ledger.Submission{
		Fingerprint: rec.Fingerprint,
		CaseID:      rec.CaseID,
		ArtifactID:  rec.ArtifactID,
		Metadata:    rec.AnchorMetadata(),
	}

	var txRef string
	op := func() error {
		ref, err := c.client.Submit(ctx, sub)
		if err != nil {
			if errors.Is(err, ledger.ErrRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		txRef = ref
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(c.maxAttempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return txRef, nil
}

func (c *Coordinator) acquire(artifactID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[artifactID]; busy {
		return false
	}
	c.inflight[artifactID] = struct{}{}
	return true
}

func (c *Coordinator) release(artifactID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, artifactID)
}
