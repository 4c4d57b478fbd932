// Package ledger implements the tamper-evident chain of insurance contracts.
//
// Index 0 always holds the genesis record. Every later record stores the hash
// of its predecessor and a hash over its own fields, so editing a record or
// breaking a link is found by Validate.
package ledger

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/policyledger/policyledger/internal/hash"
)

type Cause string

const (
	CauseIntact          Cause = "intact"
	CauseContentModified Cause = "content_modified"
	CauseLinkBroken      Cause = "link_broken"
)

// Finding describes the integrity state of a single record.
type Finding struct {
	Index            int    `json:"index"`
	Cause            Cause  `json:"cause"`
	StoredHash       string `json:"stored_hash"`
	RecomputedHash   string `json:"recomputed_hash"`
	PreviousHash     string `json:"previous_hash"`
	ExpectedPrevious string `json:"expected_previous"`
}

type Option func(*Ledger)

// WithClock overrides the clock used to timestamp appended records.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

type Ledger struct {
	mu      sync.RWMutex
	records []Record
	now     func() time.Time
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		records: []Record{Genesis()},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append seals fields onto the current tail and adds the new record.
func (l *Ledger) Append(fields Fields) (Record, error) {
	if err := validateFields(fields); err != nil {
		return Record{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isPolicyUnique(fields.PolicyNumber) {
		return Record{}, &DuplicatePolicyError{PolicyNumber: fields.PolicyNumber}
	}

	tail := l.records[len(l.records)-1]
	record := NewRecord(fields, tail.CurrentHash, l.now().Format(TimestampLayout))
	l.records = append(l.records, record)

	return record, nil
}

func validateFields(f Fields) error {
	required := []struct {
		name  string
		value string
	}{
		{"fio", f.FIO},
		{"policy_number", f.PolicyNumber},
		{"agent", f.Agent},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return NewValidationError(r.name, "is required")
		}
	}

	amounts := []struct {
		name  string
		value float64
	}{
		{"premium", f.Premium},
		{"coverage", f.Coverage},
	}
	for _, a := range amounts {
		if math.IsNaN(a.value) || math.IsInf(a.value, 0) {
			return NewValidationError(a.name, "must be a number")
		}
		if a.value < 0 {
			return NewValidationError(a.name, "must not be negative")
		}
	}

	return nil
}

func (l *Ledger) IsPolicyUnique(policyNumber string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isPolicyUnique(policyNumber)
}

func (l *Ledger) isPolicyUnique(policyNumber string) bool {
	for _, r := range l.records[1:] {
		if r.PolicyNumber == policyNumber {
			return false
		}
	}
	return true
}

// Validate walks the chain and returns the index of the first record whose
// own hash or link to its predecessor does not hold. An intact chain
// yields (true, -1).
func (l *Ledger) Validate() (bool, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := 1; i < len(l.records); i++ {
		if l.inspect(i).Cause != CauseIntact {
			return false, i
		}
	}
	return true, -1
}

// Inspect reports stored and recomputed hashes for the record at index.
func (l *Ledger) Inspect(index int) (Finding, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index < 0 || index >= len(l.records) {
		return Finding{}, fmt.Errorf("index %d out of range", index)
	}
	return l.inspect(index), nil
}

func (l *Ledger) inspect(i int) Finding {
	r := l.records[i]
	f := Finding{
		Index:          i,
		Cause:          CauseIntact,
		StoredHash:     r.CurrentHash,
		RecomputedHash: Recompute(r),
		PreviousHash:   r.PreviousHash,
	}

	if i == 0 {
		f.ExpectedPrevious = genesisPreviousHash
	} else {
		f.ExpectedPrevious = l.records[i-1].CurrentHash
	}

	switch {
	case f.RecomputedHash != f.StoredHash:
		f.Cause = CauseContentModified
	case f.PreviousHash != f.ExpectedPrevious:
		f.Cause = CauseLinkBroken
	}
	return f
}

// Records returns a copy of the chain, genesis included.
func (l *Ledger) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Ledger) Get(index int) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index < 0 || index >= len(l.records) {
		return Record{}, fmt.Errorf("index %d out of range", index)
	}
	return l.records[index], nil
}

// Len returns the number of records including genesis.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *Ledger) Tail() Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records[len(l.records)-1]
}

// Fingerprint returns the ordered Merkle root over the stored hashes of all
// non-genesis records.
func (l *Ledger) Fingerprint() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	hashes := make([]string, 0, len(l.records)-1)
	for _, r := range l.records[1:] {
		hashes = append(hashes, r.CurrentHash)
	}
	return hash.Fingerprint(hashes)
}

// Replace re-seeds the chain with genesis followed by records, taken as-is.
// Stored hashes are not recomputed.
func (l *Ledger) Replace(records []Record) {
	chain := make([]Record, 0, len(records)+1)
	chain = append(chain, Genesis())
	chain = append(chain, records...)

	l.mu.Lock()
	l.records = chain
	l.mu.Unlock()
}
