package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/policyledger/policyledger/internal/alert"
	"github.com/policyledger/policyledger/internal/codec"
	"github.com/policyledger/policyledger/internal/ledger"
	"github.com/policyledger/policyledger/internal/storage"
)

type fakeAlerter struct {
	integrity []alert.IntegrityFailure
	drift     int
}

func (f *fakeAlerter) SendIntegrityAlert(a alert.IntegrityFailure) error {
	f.integrity = append(f.integrity, a)
	return nil
}

func (f *fakeAlerter) SendDriftAlert(file, checkpointTail, currentTail string) error {
	f.drift++
	return nil
}

func newStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func contract(policy string) ledger.Fields {
	return ledger.Fields{
		FIO:           "Ivanov I.I.",
		PolicyNumber:  policy,
		Phone:         "+79990000000",
		ObjectInsured: "Car",
		Risk:          "Theft",
		StartDate:     "01.01.2025",
		EndDate:       "31.12.2025",
		Premium:       45000,
		Coverage:      1200000,
		Agent:         "Ivanov I.I.",
	}
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insurance_ledger.json")
	s := New(path, WithLogger(zap.NewNop()))

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(s.Records()) != 1 {
		t.Error("expected genesis-only ledger")
	}
	if s.Path() != path {
		t.Errorf("expected path %s, got %s", path, s.Path())
	}
}

func TestOpenCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insurance_ledger.json")
	os.WriteFile(path, []byte("not json"), 0644)

	s := New(path)
	if err := s.Open(); !ledger.IsCorruptFileError(err) {
		t.Errorf("expected CorruptFileError, got %v", err)
	}
}

func TestAppendSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insurance_ledger.json")
	s := New(path)

	if _, err := s.Append(contract("P1")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(contract("P2")); err != nil {
		t.Fatal(err)
	}
	if !s.Dirty() {
		t.Error("session should be dirty after append")
	}

	if err := s.Save(""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if s.Dirty() {
		t.Error("session should be clean after save")
	}

	other := New("")
	if err := other.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if other.Path() != path {
		t.Errorf("Load should bind the session to %s", path)
	}

	want := s.Records()
	got := other.Records()
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d differs after reload", i)
		}
	}
	if r := other.Validate(); !r.Valid || r.FirstBad != -1 {
		t.Errorf("reloaded ledger should be valid, got %+v", r)
	}
}

func TestSaveWithoutPath(t *testing.T) {
	s := New("")
	if err := s.Save(""); err == nil {
		t.Error("expected error when no file is bound")
	}
}

func TestSaveAsRebindsPath(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "a.json"))
	s.Append(contract("P1"))

	target := filepath.Join(dir, "b.json")
	if err := s.Save(target); err != nil {
		t.Fatal(err)
	}
	if s.Path() != target {
		t.Errorf("expected path %s, got %s", target, s.Path())
	}
	if _, err := os.Stat(filepath.Join(dir, "a.json")); !errors.Is(err, os.ErrNotExist) {
		t.Error("original path should not have been written")
	}
}

func TestLoadFailureKeepsLedger(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "ledger.json"))
	s.Append(contract("P1"))

	if err := s.Load(filepath.Join(dir, "missing.json")); !ledger.IsIOError(err) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if len(s.Records()) != 2 {
		t.Error("failed load must not discard the current ledger")
	}
	if s.Path() != filepath.Join(dir, "ledger.json") {
		t.Error("failed load must not rebind the session")
	}
}

func TestAppendErrors(t *testing.T) {
	s := New("")
	s.Append(contract("P1"))

	if _, err := s.Append(contract("P1")); !ledger.IsDuplicatePolicyError(err) {
		t.Errorf("expected DuplicatePolicyError, got %v", err)
	}

	bad := contract("P2")
	bad.Agent = ""
	if _, err := s.Append(bad); !ledger.IsValidationError(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestValidateTamperAlertsAndMarksRows(t *testing.T) {
	alerts := &fakeAlerter{}
	s := New("", WithAlerter(alerts))
	for _, p := range []string{"P1", "P2", "P3"} {
		s.Append(contract(p))
	}

	if err := s.Tamper(2, "premium", "1"); err != nil {
		t.Fatal(err)
	}

	report := s.Validate()
	if report.Valid || report.FirstBad != 2 {
		t.Fatalf("expected (false, 2), got (%v, %d)", report.Valid, report.FirstBad)
	}
	if report.Finding == nil || report.Finding.Cause != ledger.CauseContentModified {
		t.Errorf("expected content_modified finding, got %+v", report.Finding)
	}
	if report.Record == nil || report.Record.PolicyNumber != "P2" {
		t.Errorf("expected offending record P2, got %+v", report.Record)
	}

	if len(alerts.integrity) != 1 {
		t.Fatalf("expected 1 integrity alert, got %d", len(alerts.integrity))
	}
	if alerts.integrity[0].Index != 2 || alerts.integrity[0].PolicyNumber != "P2" {
		t.Errorf("unexpected alert %+v", alerts.integrity[0])
	}

	table := s.Table()
	if table.Valid || table.FirstBad != 2 {
		t.Errorf("table should reflect broken chain: %+v", table)
	}
	wantSuspect := []bool{false, true, true}
	for i, row := range table.Rows {
		if row.Index != i+1 {
			t.Errorf("row %d has index %d", i, row.Index)
		}
		if row.Suspect != wantSuspect[i] {
			t.Errorf("row %d suspect = %v, want %v", row.Index, row.Suspect, wantSuspect[i])
		}
	}
}

func TestValidateIntactSendsNoAlert(t *testing.T) {
	alerts := &fakeAlerter{}
	s := New("", WithAlerter(alerts))
	s.Append(contract("P1"))

	report := s.Validate()
	if !report.Valid || report.FirstBad != -1 || report.Finding != nil {
		t.Errorf("unexpected report %+v", report)
	}
	if len(alerts.integrity) != 0 {
		t.Error("no alert expected for a valid chain")
	}
}

func TestTamperErrors(t *testing.T) {
	s := New("")
	s.Append(contract("P1"))

	if err := s.Tamper(0, "fio", "x"); err == nil {
		t.Error("genesis must not be editable")
	}
	if err := s.Tamper(1, "unknown", "x"); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestCheckpointsAndDrift(t *testing.T) {
	store := newStore(t)
	alerts := &fakeAlerter{}
	path := filepath.Join(t.TempDir(), "insurance_ledger.json")

	s := New(path, WithStore(store), WithAlerter(alerts))
	s.Append(contract("P1"))
	s.Append(contract("P2"))
	if err := s.Save(""); err != nil {
		t.Fatal(err)
	}

	st := s.Status()
	if st.LastCheckpoint == nil || st.LastCheckpoint.Kind != storage.KindSave {
		t.Fatalf("expected save checkpoint, got %+v", st.LastCheckpoint)
	}
	if st.LastCheckpoint.Records != 2 || st.LastCheckpoint.TailHash != st.TailHash {
		t.Errorf("checkpoint does not match ledger: %+v", st.LastCheckpoint)
	}
	if st.Drift {
		t.Error("no drift expected right after save")
	}

	// Someone rewrites the file with a fully rehashed, shorter chain.
	records, err := codec.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := codec.Save(path, records[:1]); err != nil {
		t.Fatal(err)
	}

	reopened := New(path, WithStore(store), WithAlerter(alerts))
	if err := reopened.Open(); err != nil {
		t.Fatal(err)
	}

	report := reopened.Validate()
	if !report.Valid {
		t.Error("truncated chain is still internally valid")
	}
	if !report.Drift {
		t.Error("expected drift against last save checkpoint")
	}
	if alerts.drift != 1 {
		t.Errorf("expected 1 drift alert, got %d", alerts.drift)
	}
	if !reopened.Status().Drift {
		t.Error("status should report drift")
	}

	cps, err := store.Checkpoints(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 || cps[1].Kind != storage.KindValidate {
		t.Errorf("expected save then validate checkpoints, got %d", len(cps))
	}
}

func TestUnsavedChangesAreNotDrift(t *testing.T) {
	store := newStore(t)
	path := filepath.Join(t.TempDir(), "insurance_ledger.json")

	s := New(path, WithStore(store))
	s.Append(contract("P1"))
	s.Save("")
	s.Append(contract("P2"))

	if s.Status().Drift {
		t.Error("unsaved appends should not count as drift")
	}
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		st   Status
		want string
	}{
		{Status{Records: 0}, "Contracts: 0 | File: new file"},
		{Status{Records: 3, File: "/data/insurance_ledger.json"}, "Contracts: 3 | File: insurance_ledger.json"},
		{Status{Records: 1, File: "ledger.json", Dirty: true}, "Contracts: 1 | File: ledger.json (unsaved changes)"},
	}

	for _, tt := range tests {
		if got := tt.st.StatusLine(); got != tt.want {
			t.Errorf("StatusLine() = %q, want %q", got, tt.want)
		}
	}
}

func TestLoadTrustsStoredHashes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insurance_ledger.json")

	s := New(path)
	s.Append(contract("P1"))
	s.Tamper(1, "fio", "Petrov P.P.")
	if err := s.Save(""); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "Petrov P.P.") {
		t.Fatal("tampered value should be saved as-is")
	}

	reloaded := New(path)
	if err := reloaded.Open(); err != nil {
		t.Fatal(err)
	}
	if r := reloaded.Validate(); r.Valid || r.FirstBad != 1 {
		t.Errorf("tampering must survive save and load, got %+v", r)
	}
}

// blockingAlerter reads session state while delivering, which deadlocks if
// delivery happens under the session lock.
type blockingAlerter struct {
	s    *Session
	sent chan struct{}
}

func (b *blockingAlerter) SendIntegrityAlert(alert.IntegrityFailure) error {
	b.s.Dirty()
	close(b.sent)
	return nil
}

func (b *blockingAlerter) SendDriftAlert(file, checkpointTail, currentTail string) error {
	return nil
}

func TestValidateDeliversAlertsOutsideLock(t *testing.T) {
	s := New("")
	s.Append(contract("P1"))
	s.Append(contract("P2"))
	if err := s.Tamper(1, "fio", "Mallory"); err != nil {
		t.Fatal(err)
	}

	alerts := &blockingAlerter{s: s, sent: make(chan struct{})}
	s.alerts = alerts

	done := make(chan Report, 1)
	go func() { done <- s.Validate() }()

	select {
	case report := <-done:
		if report.Valid || report.FirstBad != 1 {
			t.Errorf("expected (false, 1), got (%v, %d)", report.Valid, report.FirstBad)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Validate blocked while delivering alert")
	}

	select {
	case <-alerts.sent:
	default:
		t.Error("expected integrity alert to be delivered")
	}
}

func TestWithLedgerUsesGivenClock(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)
	l := ledger.New(ledger.WithClock(func() time.Time { return fixed }))

	path := filepath.Join(t.TempDir(), "insurance_ledger.json")
	s := New(path, WithLedger(l))

	record, err := s.Append(contract("P1"))
	if err != nil {
		t.Fatal(err)
	}
	if record.Timestamp != "2025-03-14 09:26:53" {
		t.Errorf("expected timestamp from fixed clock, got %s", record.Timestamp)
	}
	if err := s.Save(""); err != nil {
		t.Fatal(err)
	}

	records, err := codec.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Timestamp != "2025-03-14 09:26:53" {
		t.Errorf("unexpected persisted records %+v", records)
	}
}

func TestRelativePathsShareCheckpoints(t *testing.T) {
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	store := newStore(t)
	s := New("", WithStore(store))
	s.Append(contract("P1"))

	if err := s.Save("insurance_ledger.json"); err != nil {
		t.Fatal(err)
	}

	want, err := filepath.Abs("insurance_ledger.json")
	if err != nil {
		t.Fatal(err)
	}
	if s.Path() != want {
		t.Errorf("expected absolute path %s, got %s", want, s.Path())
	}

	other := New(want, WithStore(store))
	if err := other.Load("./insurance_ledger.json"); err != nil {
		t.Fatal(err)
	}
	if other.Path() != want {
		t.Errorf("expected absolute path after load, got %s", other.Path())
	}

	if _, err := store.LatestCheckpoint(want, storage.KindSave); err != nil {
		t.Errorf("expected save checkpoint under %s: %v", want, err)
	}
	if st := other.Status(); st.LastCheckpoint == nil || st.Drift {
		t.Errorf("expected clean status with a checkpoint, got %+v", st)
	}
}
