package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveUploadCreated(t *testing.T) {
	before := testutil.ToFloat64(uploadsTotal.WithLabelValues(ResultCreated))
	rowsBefore := testutil.CollectAndCount(uploadRows)

	ObserveUpload(ResultCreated, 2048, 12)

	if got := testutil.ToFloat64(uploadsTotal.WithLabelValues(ResultCreated)); got != before+1 {
		t.Fatalf("expected created uploads %f, got %f", before+1, got)
	}
	if testutil.CollectAndCount(uploadRows) != rowsBefore {
		// histogram is a single collector; count stays at one series
		t.Fatalf("unexpected series count change for upload rows")
	}
}

func TestObserveUploadRejected(t *testing.T) {
	before := testutil.ToFloat64(uploadsTotal.WithLabelValues(ResultTooLarge))
	ObserveUpload(ResultTooLarge, 10_000_000, 0)
	if got := testutil.ToFloat64(uploadsTotal.WithLabelValues(ResultTooLarge)); got != before+1 {
		t.Fatalf("expected too_large uploads %f, got %f", before+1, got)
	}
}

func TestWSConnectionsGauge(t *testing.T) {
	before := testutil.ToFloat64(wsConnections)
	IncWSConnections()
	IncWSConnections()
	DecWSConnections()
	if got := testutil.ToFloat64(wsConnections); got != before+1 {
		t.Fatalf("expected gauge %f, got %f", before+1, got)
	}
	DecWSConnections()
}

func TestObserveRetrieval(t *testing.T) {
	before := testutil.ToFloat64(retrievalsTotal.WithLabelValues("not_found"))
	ObserveRetrieval("not_found")
	if got := testutil.ToFloat64(retrievalsTotal.WithLabelValues("not_found")); got != before+1 {
		t.Fatalf("expected not_found retrievals %f, got %f", before+1, got)
	}
}
