// Package verify answers the point-in-time question "is this artifact
// still the one that was anchored, and under which case". It re-reads
// the ledger, compares the entry's case binding against the local
// record, and classifies the result. It never loops or polls; callers
// that wait for eventual anchoring call Verify repeatedly.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casetrust/anchor/pkg/fingerprint"
	"github.com/casetrust/anchor/pkg/ledger"
	"github.com/casetrust/anchor/pkg/observability"
	"github.com/casetrust/anchor/pkg/record"
)

// Verdict classifies a verification outcome. Ambiguity is representable
// on purpose: "hash not found" and "ledger unreachable" are distinct
// answers, never collapsed into a boolean.
type Verdict string

const (
	// VerdictVerified: the ledger entry exists and is bound to the same
	// case as the local record.
	VerdictVerified Verdict = "verified"

	// VerdictTampered: the fingerprint exists on the ledger but is
	// bound to a different case. Fingerprint collision across cases is
	// evidence of fraud, not a ledger error.
	VerdictTampered Verdict = "tampered"

	// VerdictPendingAnchoring: not on the ledger yet and the local
	// record is still pending.
	VerdictPendingAnchoring Verdict = "pending_anchoring"

	// VerdictNotFound: not on the ledger and the local record is not
	// pending — an anomaly that is surfaced, never silently repaired.
	VerdictNotFound Verdict = "not_found"

	// VerdictUnreachable: the ledger cannot be reached and no local
	// confirmation exists to fall back on.
	VerdictUnreachable Verdict = "unreachable"

	// VerdictArtifactUnknown: no local evidence record exists.
	VerdictArtifactUnknown Verdict = "artifact_unknown"
)

// Result is the structured verdict returned by Verify.
type Result struct {
	Verdict     Verdict    `json:"verdict"`
	ArtifactID  string     `json:"artifact_id"`
	CaseID      string     `json:"case_id,omitempty"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	LedgerTxRef string     `json:"ledger_tx_ref,omitempty"`
	AnchoredAt  *time.Time `json:"anchored_at,omitempty"`

	// Degraded is set when the verdict rests on local state because the
	// ledger was unreachable.
	Degraded bool `json:"degraded,omitempty"`

	// Source names what the verdict is based on: "ledger" or "local".
	Source string `json:"source,omitempty"`

	// MetadataDivergence flags a Verified entry whose stored audit
	// metadata no longer matches the locally derived bag. Surfaced for
	// auditors; it does not downgrade the verdict.
	MetadataDivergence bool `json:"metadata_divergence,omitempty"`

	Detail string `json:"detail,omitempty"`
}

// Config tunes the verification service.
type Config struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Cache   *LedgerCache // optional read-through cache for ledger reads
}

// Service performs verification against the ledger and the local store.
type Service struct {
	store   record.Store
	client  ledger.Client
	logger  *slog.Logger
	metrics *observability.Metrics
	cache   *LedgerCache
}

// NewService creates a verification service. Store and client are
// injected; the service keeps no state of its own.
func NewService(store record.Store, client ledger.Client, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:   store,
		client:  client,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		cache:   cfg.Cache,
	}
}

// Verify classifies the anchoring state of an artifact. All ledger
// access is read-only; the only local write is the opportunistic
// pending -> confirmed reconciliation when the ledger already holds a
// matching entry. Store I/O failures propagate as errors; every ledger
// condition maps to a verdict.
func (s *Service) Verify(ctx context.Context, artifactID string) (*Result, error) {
	rec, err := s.store.Get(ctx, artifactID)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return s.done(ctx, &Result{
				Verdict:    VerdictArtifactUnknown,
				ArtifactID: artifactID,
				Detail:     "no evidence record for artifact",
			}), nil
		}
		return nil, fmt.Errorf("verify: load record: %w", err)
	}

	entry, err := s.readLedger(ctx, rec.Fingerprint)
	switch {
	case err == nil:
		return s.classifyEntry(ctx, rec, entry), nil
	case errors.Is(err, ledger.ErrNotFound):
		return s.classifyAbsent(ctx, rec), nil
	default:
		return s.classifyUnreachable(ctx, rec, err), nil
	}
}

func (s *Service) classifyEntry(ctx context.Context, rec *record.Record, entry *ledger.Entry) *Result {
	if entry.CaseID != rec.CaseID {
		s.logger.Warn("tampering detected: fingerprint anchored under different case",
			"artifact_id", rec.ArtifactID,
			"local_case_id", rec.CaseID,
			"ledger_case_id", entry.CaseID,
			"fingerprint", rec.Fingerprint)
		return s.done(ctx, &Result{
			Verdict:     VerdictTampered,
			ArtifactID:  rec.ArtifactID,
			CaseID:      rec.CaseID,
			Fingerprint: rec.Fingerprint,
			Source:      "ledger",
			Detail:      "fingerprint is anchored under a different case",
		})
	}

	anchoredAt := entry.AnchoredAt
	res := &Result{
		Verdict:     VerdictVerified,
		ArtifactID:  rec.ArtifactID,
		CaseID:      rec.CaseID,
		Fingerprint: rec.Fingerprint,
		LedgerTxRef: entry.TxRef,
		AnchoredAt:  &anchoredAt,
		Source:      "ledger",
	}

	if divergent(rec.AnchorMetadata(), entry.Metadata) {
		res.MetadataDivergence = true
		res.Detail = "ledger metadata differs from local audit metadata"
		s.logger.Warn("anchored metadata diverges from local record",
			"artifact_id", rec.ArtifactID, "fingerprint", rec.Fingerprint)
	}

	if rec.Status == record.StatusPending {
		// The write landed but the coordinator never recorded it (e.g.
		// crash between submit and update). Reconcile locally.
		if err := s.store.MarkConfirmed(ctx, rec.ArtifactID, entry.TxRef, entry.AnchoredAt); err != nil {
			if !errors.Is(err, record.ErrConflict) {
				s.logger.Error("reconciliation to confirmed failed",
					"artifact_id", rec.ArtifactID, "error", err)
			}
		} else {
			s.logger.Info("reconciled pending record against ledger",
				"artifact_id", rec.ArtifactID, "tx_ref", entry.TxRef)
		}
	}

	return s.done(ctx, res)
}

func (s *Service) classifyAbsent(ctx context.Context, rec *record.Record) *Result {
	if rec.Status == record.StatusPending {
		return s.done(ctx, &Result{
			Verdict:     VerdictPendingAnchoring,
			ArtifactID:  rec.ArtifactID,
			CaseID:      rec.CaseID,
			Fingerprint: rec.Fingerprint,
			Source:      "ledger",
			Detail:      "anchoring in progress",
		})
	}
	// Locally confirmed or failed, yet absent on the ledger. Surfaced
	// as an anomaly; auto-repair could mask tampering or loss.
	return s.done(ctx, &Result{
		Verdict:     VerdictNotFound,
		ArtifactID:  rec.ArtifactID,
		CaseID:      rec.CaseID,
		Fingerprint: rec.Fingerprint,
		Source:      "ledger",
		Detail:      fmt.Sprintf("fingerprint absent from ledger while locally %s", rec.Status),
	})
}

func (s *Service) classifyUnreachable(ctx context.Context, rec *record.Record, cause error) *Result {
	if rec.Status == record.StatusConfirmed {
		return s.done(ctx, &Result{
			Verdict:     VerdictVerified,
			ArtifactID:  rec.ArtifactID,
			CaseID:      rec.CaseID,
			Fingerprint: rec.Fingerprint,
			LedgerTxRef: rec.LedgerTxRef,
			AnchoredAt:  rec.AnchoredAt,
			Degraded:    true,
			Source:      "local",
			Detail:      "ledger unreachable; verdict based on local confirmation",
		})
	}
	return s.done(ctx, &Result{
		Verdict:     VerdictUnreachable,
		ArtifactID:  rec.ArtifactID,
		CaseID:      rec.CaseID,
		Fingerprint: rec.Fingerprint,
		Detail:      cause.Error(),
	})
}

// readLedger consults the cache before the ledger. Only positive entries
// are cached; NotFound and Unavailable are always re-asked.
func (s *Service) readLedger(ctx context.Context, fp string) (*ledger.Entry, error) {
	if entry, ok := s.cache.Get(ctx, fp); ok {
		return entry, nil
	}
	entry, err := s.client.Read(ctx, fp)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, fp, entry)
	return entry, nil
}

func (s *Service) done(ctx context.Context, res *Result) *Result {
	s.metrics.VerifyVerdict(ctx, string(res.Verdict))
	return res
}

// divergent compares two metadata bags by canonical JSON digest, so key
// order and number encoding do not produce false positives.
func divergent(local, anchored map[string]any) bool {
	if len(anchored) == 0 {
		// Entries anchored without metadata are not flagged.
		return false
	}
	localDigest, err1 := metadataDigest(local)
	anchoredDigest, err2 := metadataDigest(anchored)
	if err1 != nil || err2 != nil {
		return true
	}
	return localDigest != anchoredDigest
}

func metadataDigest(m map[string]any) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return fingerprint.CanonicalDigest(raw)
}
