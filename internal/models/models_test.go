package models

import (
	"testing"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestRecordIDString(t *testing.T) {
	id := surrealmodels.RecordID{Table: "sync_job", ID: "abc123"}
	s, err := RecordIDString(id)
	if err != nil {
		t.Fatalf("RecordIDString failed: %v", err)
	}
	if s != "abc123" {
		t.Errorf("Expected 'abc123', got %q", s)
	}

	bad := surrealmodels.RecordID{Table: "sync_job", ID: 42}
	if _, err := RecordIDString(bad); err == nil {
		t.Error("Expected error for non-string ID")
	}
}

func TestJobKindDependsOn(t *testing.T) {
	if _, ok := JobImport.DependsOn(); ok {
		t.Error("Import should have no dependency")
	}

	cases := []struct {
		kind JobKind
		dep  JobKind
	}{
		{JobNormalize, JobImport},
		{JobExtract, JobNormalize},
		{JobEmbed, JobExtract},
	}
	for _, c := range cases {
		dep, ok := c.kind.DependsOn()
		if !ok || dep != c.dep {
			t.Errorf("%s: expected dependency %s, got %s (ok=%v)", c.kind, c.dep, dep, ok)
		}
	}
}

func TestProgressPercent(t *testing.T) {
	j := Job{ProcessedItems: 40}
	if _, ok := j.ProgressPercent(); ok {
		t.Error("Expected unknown progress while total is nil")
	}

	total := 120
	j.TotalItems = &total
	pct, ok := j.ProgressPercent()
	if !ok || pct != 33 {
		t.Errorf("Expected 33%%, got %d (ok=%v)", pct, ok)
	}

	// Clamp: processed beyond total must not exceed 100.
	j.ProcessedItems = 500
	pct, _ = j.ProgressPercent()
	if pct != 100 {
		t.Errorf("Expected clamp to 100, got %d", pct)
	}

	// Zero total uses max(total, 1).
	zero := 0
	j.TotalItems = &zero
	j.ProcessedItems = 0
	pct, ok = j.ProgressPercent()
	if !ok || pct != 0 {
		t.Errorf("Expected 0%% for empty job, got %d", pct)
	}
}

func TestDeriveBatchState(t *testing.T) {
	jobs := []Job{
		{Kind: JobImport, Status: JobCompleted},
		{Kind: JobNormalize, Status: JobCompleted},
		{Kind: JobExtract, Status: JobCompleted},
		{Kind: JobEmbed, Status: JobCompleted},
	}
	if s := DeriveBatchState(jobs); s != BatchCompleted {
		t.Errorf("Expected completed, got %s", s)
	}

	jobs[1].ErroredItems = 24
	if s := DeriveBatchState(jobs); s != BatchCompletedWithErrors {
		t.Errorf("Expected completed_with_errors, got %s", s)
	}

	jobs[0].Status = JobError
	if s := DeriveBatchState(jobs); s != BatchFailed {
		t.Errorf("Expected failed when import errored, got %s", s)
	}

	jobs[0].Status = JobRunning
	if s := DeriveBatchState(jobs); s != BatchActive {
		t.Errorf("Expected active, got %s", s)
	}

	// A failure past Import does not fail the batch: once every job is
	// terminal it completes with errors.
	jobs[0].Status = JobCompleted
	jobs[1].ErroredItems = 0
	jobs[3].Status = JobError
	if s := DeriveBatchState(jobs); s != BatchCompletedWithErrors {
		t.Errorf("Expected completed_with_errors when embed errored, got %s", s)
	}

	jobs[3].Status = JobRunning
	if s := DeriveBatchState(jobs); s != BatchActive {
		t.Errorf("Expected active while embed still running, got %s", s)
	}
}

func TestBatchTerminal(t *testing.T) {
	jobs := []Job{
		{Kind: JobImport, Status: JobCompleted},
		{Kind: JobNormalize, Status: JobQueued},
	}
	if BatchTerminal(jobs) {
		t.Error("Batch with queued job should not be terminal")
	}

	jobs[0].Status = JobError
	if !BatchTerminal(jobs) {
		t.Error("Batch with failed import should be terminal even with queued jobs")
	}

	// A non-import failure counts as terminal once nothing is left open.
	jobs[0].Status = JobCompleted
	jobs[1].Status = JobError
	if !BatchTerminal(jobs) {
		t.Error("Batch with every job terminal should be terminal despite an errored stage")
	}

	jobs = append(jobs, Job{Kind: JobExtract, Status: JobQueued})
	if BatchTerminal(jobs) {
		t.Error("Batch with an open job after an errored stage should not be terminal")
	}
}

func TestItemKeySanitization(t *testing.T) {
	key := ItemKey("u1", ProviderMail, "msg/17:a@b")
	if key != "u1_mail_msg-17-a-b" {
		t.Errorf("Unexpected key: %q", key)
	}
}

func TestCollectionSelected(t *testing.T) {
	p := Preferences{}
	if !p.CollectionSelected("anything") {
		t.Error("Empty selection should allow all collections")
	}

	p.Collections = []string{"inbox", "work"}
	if !p.CollectionSelected("inbox") || p.CollectionSelected("spam") {
		t.Error("Collection filter mismatch")
	}
}
