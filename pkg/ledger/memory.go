package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-process append-only ledger keyed by fingerprint.
// Entries are hash-chained to their predecessor so the full chain can be
// audited. It backs dev mode and tests; production uses GatewayClient.
//
// The first write for a fingerprint wins. A resubmission with the same
// case and artifact returns the existing transaction reference; a
// submission binding the fingerprint to a different case is rejected.
type MemoryLedger struct {
	mu       sync.RWMutex
	entries  []Entry
	byFP     map[string]int
	headHash string
	clock    func() time.Time

	failSubmit error
	failRead   error
}

// NewMemoryLedger creates an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byFP:     make(map[string]int),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

// FailSubmit makes subsequent Submit calls return err. Pass nil to heal.
func (l *MemoryLedger) FailSubmit(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSubmit = err
}

// FailRead makes subsequent Read calls return err. Pass nil to heal.
func (l *MemoryLedger) FailRead(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failRead = err
}

func (l *MemoryLedger) Submit(ctx context.Context, sub Submission) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failSubmit != nil {
		return "", l.failSubmit
	}

	if idx, ok := l.byFP[sub.Fingerprint]; ok {
		existing := l.entries[idx]
		if existing.CaseID == sub.CaseID && existing.ArtifactID == sub.ArtifactID {
			return existing.TxRef, nil
		}
		return "", fmt.Errorf("%w: fingerprint already anchored under case %s", ErrRejected, existing.CaseID)
	}

	seq := uint64(len(l.entries)) + 1
	contentHash, err := chainHash(seq, sub, l.headHash)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}

	entry := Entry{
		Fingerprint: sub.Fingerprint,
		CaseID:      sub.CaseID,
		ArtifactID:  sub.ArtifactID,
		Metadata:    sub.Metadata,
		TxRef:       "0x" + contentHash[:40],
		Sequence:    seq,
		AnchoredAt:  l.clock(),
	}
	l.entries = append(l.entries, entry)
	l.byFP[sub.Fingerprint] = len(l.entries) - 1
	l.headHash = contentHash

	return entry.TxRef, nil
}

func (l *MemoryLedger) Read(ctx context.Context, fp string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.failRead != nil {
		return nil, l.failRead
	}

	idx, ok := l.byFP[fp]
	if !ok {
		return nil, ErrNotFound
	}
	entry := l.entries[idx]
	return &entry, nil
}

// Length returns the number of anchored entries.
func (l *MemoryLedger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// VerifyChain recomputes every link of the hash chain.
func (l *MemoryLedger) VerifyChain() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := "genesis"
	for i, entry := range l.entries {
		sub := Submission{
			Fingerprint: entry.Fingerprint,
			CaseID:      entry.CaseID,
			ArtifactID:  entry.ArtifactID,
			Metadata:    entry.Metadata,
		}
		computed, err := chainHash(entry.Sequence, sub, prev)
		if err != nil {
			return false, fmt.Sprintf("entry %d: %v", i+1, err)
		}
		if entry.TxRef != "0x"+computed[:40] {
			return false, fmt.Sprintf("chain broken at entry %d", i+1)
		}
		prev = computed
	}
	return true, "chain verified"
}

func chainHash(seq uint64, sub Submission, prevHash string) (string, error) {
	hashInput := struct {
		Seq      uint64     `json:"seq"`
		Sub      Submission `json:"sub"`
		PrevHash string     `json:"prev"`
	}{seq, sub, prevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("marshal chain input: %w", err)
	}
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:]), nil
}
