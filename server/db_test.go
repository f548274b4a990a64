package server

import (
	"testing"
	"time"

	"github.com/libarch/folio/batch"
)

func TestQlBatchDBOpenError(t *testing.T) {
	db, err := NewQlBatchDB("/nonexistent-dir/sub/folio.ql")
	if err == nil {
		t.Fatal("Received nil error opening an impossible path")
	}
	// the failure must surface as a plain nil, not a typed nil inside
	// the interface value
	if db != nil {
		t.Fatalf("Received %#v, expected nil", db)
	}
}

func TestQlBatchDB(t *testing.T) {
	qc, err := NewQlBatchDB("memory")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}

	if rec := qc.LookupBatch("nosuchbatch"); rec != nil {
		t.Errorf("Received %v, expected nil", rec)
	}

	err = qc.NewBatch("b1", "alice", "letters")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	rec := qc.LookupBatch("b1")
	if rec == nil {
		t.Fatal("Received nil, expected record")
	}
	if rec.Requester != "alice" || rec.Collection != "letters" {
		t.Errorf("Received %v", rec)
	}
	if rec.Report != nil {
		t.Errorf("Received report %v, expected nil while running", rec.Report)
	}

	report := batch.Report{
		Collection: "letters",
		Succeeded:  2,
		Failed:     1,
		Outcomes: []batch.Outcome{
			{URL: "http://example.org/m/1", Status: batch.StatusSucceeded, Attempts: 1},
			{URL: "http://example.org/m/2", Status: batch.StatusSucceeded, Attempts: 3},
			{URL: "http://example.org/m/3", Status: batch.StatusFailed, ErrorKind: "FetchError", Attempts: 1},
		},
		Started:  time.Now().Add(-time.Minute),
		Finished: time.Now(),
	}
	err = qc.FinishBatch("b1", report)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	rec = qc.LookupBatch("b1")
	if rec == nil || rec.Report == nil {
		t.Fatal("Received nil report, expected finished report")
	}
	if rec.Report.Succeeded != 2 || rec.Report.Failed != 1 {
		t.Errorf("Received %v", rec.Report)
	}
	if len(rec.Report.Outcomes) != 3 {
		t.Fatalf("Received %d outcomes, expected 3", len(rec.Report.Outcomes))
	}
	if rec.Report.Outcomes[2].Status != batch.StatusFailed {
		t.Errorf("Received %v, expected %v",
			rec.Report.Outcomes[2].Status, batch.StatusFailed)
	}

	// b2 and b3 sort after b1 by creation time
	qc.NewBatch("b2", "bob", "journals")
	qc.NewBatch("b3", "alice", "letters")

	list := qc.ListBatches(2)
	if len(list) != 2 {
		t.Fatalf("Received %d records, expected 2", len(list))
	}
	if list[0].ID != "b3" || list[1].ID != "b2" {
		t.Errorf("Received %v %v, expected b3 b2", list[0].ID, list[1].ID)
	}
}
