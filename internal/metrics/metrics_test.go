package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAppend(t *testing.T) {
	before := testutil.ToFloat64(AppendsTotal.WithLabelValues(ResultDuplicate))
	RecordAppend(ResultDuplicate)
	after := testutil.ToFloat64(AppendsTotal.WithLabelValues(ResultDuplicate))

	if after != before+1 {
		t.Errorf("expected counter to grow by 1, got %v -> %v", before, after)
	}
}

func TestRecordValidation(t *testing.T) {
	valid := testutil.ToFloat64(ValidationsTotal.WithLabelValues("valid"))
	broken := testutil.ToFloat64(ValidationsTotal.WithLabelValues("broken"))

	RecordValidation(true)
	RecordValidation(false)
	RecordValidation(false)

	if got := testutil.ToFloat64(ValidationsTotal.WithLabelValues("valid")); got != valid+1 {
		t.Errorf("valid counter = %v, want %v", got, valid+1)
	}
	if got := testutil.ToFloat64(ValidationsTotal.WithLabelValues("broken")); got != broken+2 {
		t.Errorf("broken counter = %v, want %v", got, broken+2)
	}
}

func TestRecordFileOp(t *testing.T) {
	before := testutil.ToFloat64(FileOpsTotal.WithLabelValues("save", "failure"))
	RecordFileOp("save", errors.New("disk full"))

	if got := testutil.ToFloat64(FileOpsTotal.WithLabelValues("save", "failure")); got != before+1 {
		t.Errorf("failure counter = %v, want %v", got, before+1)
	}
}

func TestSetRecords(t *testing.T) {
	SetRecords(42)
	if got := testutil.ToFloat64(RecordsGauge); got != 42 {
		t.Errorf("records gauge = %v, want 42", got)
	}
}
