// Package session is the entry point used by user interfaces. A Session owns
// one ledger, remembers which file it belongs to and whether it has unsaved
// changes, and records a checkpoint for every save and validation.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/policyledger/policyledger/internal/alert"
	"github.com/policyledger/policyledger/internal/codec"
	"github.com/policyledger/policyledger/internal/ledger"
	"github.com/policyledger/policyledger/internal/metrics"
	"github.com/policyledger/policyledger/internal/storage"
)

type CheckpointStore interface {
	SaveCheckpoint(cp *storage.Checkpoint) error
	LatestCheckpoint(file string, kind storage.CheckpointKind) (*storage.Checkpoint, error)
}

type Alerter interface {
	SendIntegrityAlert(f alert.IntegrityFailure) error
	SendDriftAlert(file, checkpointTail, currentTail string) error
}

type Option func(*Session)

func WithStore(store CheckpointStore) Option {
	return func(s *Session) {
		s.store = store
	}
}

func WithAlerter(a Alerter) Option {
	return func(s *Session) {
		s.alerts = a
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithLedger replaces the empty ledger a session starts with.
func WithLedger(l *ledger.Ledger) Option {
	return func(s *Session) {
		s.ledger = l
	}
}

type Session struct {
	mu     sync.Mutex
	ledger *ledger.Ledger
	path   string
	dirty  bool
	store  CheckpointStore
	alerts Alerter
	logger *zap.Logger
}

// Report is the outcome of a validation.
type Report struct {
	Valid    bool            `json:"valid"`
	FirstBad int             `json:"first_bad"`
	Finding  *ledger.Finding `json:"finding,omitempty"`
	Record   *ledger.Record  `json:"record,omitempty"`
	Drift    bool            `json:"drift"`
}

// Row is one line of the contracts table.
type Row struct {
	Index   int           `json:"index"`
	Record  ledger.Record `json:"record"`
	Suspect bool          `json:"suspect"`
}

type Table struct {
	Valid    bool  `json:"valid"`
	FirstBad int   `json:"first_bad"`
	Rows     []Row `json:"rows"`
}

type Status struct {
	Records        int                 `json:"records"`
	File           string              `json:"file"`
	Dirty          bool                `json:"dirty"`
	TailHash       string              `json:"tail_hash"`
	Fingerprint    string              `json:"fingerprint"`
	LastCheckpoint *storage.Checkpoint `json:"last_checkpoint,omitempty"`
	Drift          bool                `json:"drift"`
}

// New creates a session bound to path. Nothing is read until Open or Load.
func New(path string, opts ...Option) *Session {
	s := &Session{
		path:   absPath(path),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledger == nil {
		s.ledger = ledger.New()
	}
	return s
}

// Open loads the session's own file. A file that does not exist yet leaves
// the ledger empty and is not an error.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	err := s.load(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("ledger file not found, starting empty", zap.String("file", s.path))
		metrics.SetRecords(s.ledger.Len() - 1)
		return nil
	}
	return err
}

// Load replaces the ledger with the contents of path. On failure the current
// ledger and file binding are kept.
func (s *Session) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(path)
}

func (s *Session) load(path string) error {
	path = absPath(path)
	records, err := codec.Load(path)
	metrics.RecordFileOp("load", err)
	if err != nil {
		s.logger.Warn("failed to load ledger", zap.String("file", path), zap.Error(err))
		return err
	}

	s.ledger.Replace(records)
	s.path = path
	s.dirty = false
	metrics.SetRecords(len(records))

	s.logger.Info("ledger loaded",
		zap.String("file", path),
		zap.Int("records", len(records)),
	)
	return nil
}

// Save writes the ledger to path, or to the session's file when path is
// empty, and binds the session to that file.
func (s *Session) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == "" {
		path = s.path
	}
	if path == "" {
		return errors.New("no file to save to")
	}
	path = absPath(path)

	records := s.ledger.Records()[1:]
	err := codec.Save(path, records)
	metrics.RecordFileOp("save", err)
	if err != nil {
		s.logger.Error("failed to save ledger", zap.String("file", path), zap.Error(err))
		return err
	}

	s.path = path
	s.dirty = false

	valid, firstBad := s.ledger.Validate()
	s.checkpoint(storage.KindSave, valid, firstBad)

	s.logger.Info("ledger saved",
		zap.String("file", path),
		zap.Int("records", len(records)),
	)
	return nil
}

func (s *Session) Append(fields ledger.Fields) (ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.ledger.Append(fields)
	if err != nil {
		switch {
		case ledger.IsDuplicatePolicyError(err):
			metrics.RecordAppend(metrics.ResultDuplicate)
		default:
			metrics.RecordAppend(metrics.ResultInvalid)
		}
		s.logger.Debug("contract rejected", zap.String("policy", fields.PolicyNumber), zap.Error(err))
		return ledger.Record{}, err
	}

	s.dirty = true
	metrics.RecordAppend(metrics.ResultOK)
	metrics.SetRecords(s.ledger.Len() - 1)

	s.logger.Info("contract appended",
		zap.String("policy", record.PolicyNumber),
		zap.Int("index", s.ledger.Len()-1),
		zap.String("hash", record.CurrentHash),
	)
	return record, nil
}

// Validate checks the chain. A broken chain is logged, counted and alerted
// on, but is a normal result rather than an error. Alerts are delivered
// after the session lock is released.
func (s *Session) Validate() Report {
	report, deliver := s.validate()
	deliver()
	return report
}

func (s *Session) validate() (Report, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid, firstBad := s.ledger.Validate()
	metrics.RecordValidation(valid)

	report := Report{Valid: valid, FirstBad: firstBad}
	var integrity *alert.IntegrityFailure
	var driftFile, driftFrom, driftTo string

	if !valid {
		finding, _ := s.ledger.Inspect(firstBad)
		record, _ := s.ledger.Get(firstBad)
		report.Finding = &finding
		report.Record = &record

		s.logger.Warn("ledger integrity check failed",
			zap.String("file", s.path),
			zap.Int("index", firstBad),
			zap.String("cause", string(finding.Cause)),
			zap.String("stored_hash", finding.StoredHash),
			zap.String("recomputed_hash", finding.RecomputedHash),
		)

		integrity = &alert.IntegrityFailure{
			File:           s.path,
			Index:          firstBad,
			PolicyNumber:   record.PolicyNumber,
			Cause:          string(finding.Cause),
			StoredHash:     finding.StoredHash,
			RecomputedHash: finding.RecomputedHash,
		}
	} else {
		s.logger.Info("ledger verified",
			zap.Int("records", s.ledger.Len()-1),
			zap.String("tail", s.ledger.Tail().CurrentHash),
		)
	}

	if cp := s.lastSave(); cp != nil && s.drifted(cp) {
		report.Drift = true
		tail := s.ledger.Tail().CurrentHash
		s.logger.Warn("ledger file changed since last save",
			zap.String("file", s.path),
			zap.String("checkpoint_tail", cp.TailHash),
			zap.String("current_tail", tail),
		)
		driftFile, driftFrom, driftTo = s.path, cp.TailHash, tail
	}

	s.checkpoint(storage.KindValidate, valid, firstBad)

	alerts, logger := s.alerts, s.logger
	deliver := func() {
		if alerts == nil {
			return
		}
		if integrity != nil {
			if err := alerts.SendIntegrityAlert(*integrity); err != nil {
				logger.Error("failed to send integrity alert", zap.Error(err))
			}
		}
		if report.Drift {
			if err := alerts.SendDriftAlert(driftFile, driftFrom, driftTo); err != nil {
				logger.Error("failed to send drift alert", zap.Error(err))
			}
		}
	}
	return report, deliver
}

// Table returns the contracts (genesis excluded) for display. Every row from
// the first broken record onwards is marked suspect.
func (s *Session) Table() Table {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid, firstBad := s.ledger.Validate()
	records := s.ledger.Records()

	table := Table{
		Valid:    valid,
		FirstBad: firstBad,
		Rows:     make([]Row, 0, len(records)-1),
	}
	for i := 1; i < len(records); i++ {
		table.Rows = append(table.Rows, Row{
			Index:   i,
			Record:  records[i],
			Suspect: !valid && i >= firstBad,
		})
	}
	return table
}

func (s *Session) Records() []ledger.Record {
	return s.ledger.Records()
}

func (s *Session) Get(index int) (ledger.Record, error) {
	return s.ledger.Get(index)
}

func (s *Session) Inspect(index int) (ledger.Finding, error) {
	return s.ledger.Inspect(index)
}

// Tamper overwrites one field of a stored record without resealing it. It
// is the demonstration pathway for tamper detection.
func (s *Session) Tamper(index int, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var setErr error
	err := s.ledger.Tamper(index, func(r *ledger.Record) {
		setErr = ledger.SetField(r, field, value)
	})
	if err != nil {
		return err
	}
	if setErr != nil {
		return setErr
	}

	s.dirty = true
	s.logger.Warn("record modified without resealing",
		zap.Int("index", index),
		zap.String("field", field),
	)
	return nil
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Records:     s.ledger.Len() - 1,
		File:        s.path,
		Dirty:       s.dirty,
		TailHash:    s.ledger.Tail().CurrentHash,
		Fingerprint: s.ledger.Fingerprint(),
	}

	if s.store != nil && s.path != "" {
		if cp, err := s.store.LatestCheckpoint(s.path, ""); err == nil {
			st.LastCheckpoint = cp
		}
	}
	if cp := s.lastSave(); cp != nil {
		st.Drift = s.drifted(cp)
	}
	return st
}

// StatusLine renders the one-line summary shown under the contracts table.
func (st Status) StatusLine() string {
	name := "new file"
	if st.File != "" {
		name = filepath.Base(st.File)
	}
	line := fmt.Sprintf("Contracts: %d | File: %s", st.Records, name)
	if st.Dirty {
		line += " (unsaved changes)"
	}
	return line
}

func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Session) lastSave() *storage.Checkpoint {
	if s.store == nil || s.path == "" {
		return nil
	}
	cp, err := s.store.LatestCheckpoint(s.path, storage.KindSave)
	if err != nil {
		return nil
	}
	return cp
}

// drifted reports whether a session without unsaved changes no longer
// matches what was last saved to its file.
func (s *Session) drifted(cp *storage.Checkpoint) bool {
	if s.dirty {
		return false
	}
	return cp.TailHash != s.ledger.Tail().CurrentHash || cp.Fingerprint != s.ledger.Fingerprint()
}

func (s *Session) checkpoint(kind storage.CheckpointKind, valid bool, firstBad int) {
	if s.store == nil || s.path == "" {
		return
	}

	cp := &storage.Checkpoint{
		Kind:        kind,
		File:        s.path,
		Records:     s.ledger.Len() - 1,
		TailHash:    s.ledger.Tail().CurrentHash,
		Fingerprint: s.ledger.Fingerprint(),
		Valid:       valid,
		FirstBad:    firstBad,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.store.SaveCheckpoint(cp); err != nil {
		s.logger.Error("failed to record checkpoint",
			zap.String("kind", string(kind)),
			zap.String("file", s.path),
			zap.Error(err),
		)
	}
}

// absPath makes checkpoint keys independent of the working directory.
func absPath(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
