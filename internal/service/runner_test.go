package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jkoenig/syncwell/internal/llm"
	"github.com/jkoenig/syncwell/internal/models"
	"github.com/jkoenig/syncwell/internal/provider"
)

var itemBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// makeMailItems builds n well-formed mail items with increasing timestamps.
func makeMailItems(n int) []provider.Item {
	items := make([]provider.Item, n)
	for i := range items {
		id := fmt.Sprintf("m%03d", i)
		ts := itemBase.Add(time.Duration(i) * time.Minute)
		items[i] = provider.Item{
			ID:         id,
			Collection: "inbox",
			Timestamp:  ts,
			Payload: map[string]any{
				"subject": "Message " + id,
				"date":    ts.Format(time.RFC3339),
				"from":    "Alice Carter <alice@example.com>",
				"to":      []string{"Bob Lee <bob@example.com>"},
				"body":    "Thanks for the update on " + id,
			},
		}
	}
	return items
}

// fakeAdapter serves items in cursor-addressed pages. When failErr is set,
// fetching at or past failAt returns it; a page that would cross failAt is
// truncated so the failure lands on the next fetch.
type fakeAdapter struct {
	mu      sync.Mutex
	prov    models.Provider
	items   []provider.Item
	failAt  int
	failErr error
	cursors []string
}

func (a *fakeAdapter) Provider() models.Provider { return a.prov }

func (a *fakeAdapter) Fetch(_ context.Context, _ string, cursor string, pageSize int) (*provider.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cursors = append(a.cursors, cursor)

	offset := 0
	if strings.HasPrefix(cursor, "page:") {
		n, err := strconv.Atoi(strings.TrimPrefix(cursor, "page:"))
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q", cursor)
		}
		offset = n
	}

	if a.failErr != nil && offset >= a.failAt {
		return nil, a.failErr
	}

	end := offset + pageSize
	if end > len(a.items) {
		end = len(a.items)
	}
	if a.failErr != nil && a.failAt < end {
		end = a.failAt
	}

	return &provider.Page{
		Items:      a.items[offset:end],
		NextCursor: fmt.Sprintf("page:%d", end),
		HasMore:    end < len(a.items),
	}, nil
}

func (a *fakeAdapter) clearFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failErr = nil
}

// fakeEmbedder returns a fixed vector. Texts containing a key of fail are
// rejected that many times; a negative count rejects forever. With fatal
// set every call reports an unrecoverable backend error.
type fakeEmbedder struct {
	mu    sync.Mutex
	fail  map[string]int
	fatal bool
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatal {
		return nil, fmt.Errorf("embedding model not found: %w", llm.ErrFatalAPI)
	}
	for sub, n := range e.fail {
		if n != 0 && strings.Contains(text, sub) {
			if n > 0 {
				e.fail[sub] = n - 1
			}
			return nil, errors.New("embed backend unavailable")
		}
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *fakeEmbedder) clearFailures() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = nil
}

type pipelineFixture struct {
	store    *memStore
	adapter  *fakeAdapter
	embedder *fakeEmbedder
	orch     *Orchestrator
	runner   *Runner
	accounts *AccountService
	status   *StatusService
}

func newPipelineFixture(t *testing.T, items []provider.Item) *pipelineFixture {
	t.Helper()
	store := newMemStore()
	adapter := &fakeAdapter{prov: models.ProviderMail, items: items, failAt: -1}
	embedder := &fakeEmbedder{}
	f := &pipelineFixture{
		store:    store,
		adapter:  adapter,
		embedder: embedder,
		orch:     NewOrchestrator(store, time.Minute, 3),
		runner: NewRunner(store, map[models.Provider]provider.Adapter{
			models.ProviderMail: adapter,
		}, embedder, nil, nil, RunnerConfig{}),
		accounts: NewAccountService(store),
		status:   NewStatusService(store),
	}
	if err := f.accounts.Connect(context.Background(), "user-1", models.ProviderMail, []string{"mail.read"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return f
}

// drive ticks the runner until a pass finds nothing runnable.
func (f *pipelineFixture) drive(t *testing.T) {
	t.Helper()
	for i := 0; i < 200; i++ {
		ran, err := f.runner.RunPending(context.Background())
		if err != nil {
			t.Fatalf("run pending: %v", err)
		}
		if ran == 0 {
			return
		}
	}
	t.Fatalf("pipeline did not settle")
}

func (f *pipelineFixture) batchJobs(t *testing.T, batchID string) map[models.JobKind]models.Job {
	t.Helper()
	jobs, err := f.store.GetJobs(context.Background(), batchID)
	if err != nil {
		t.Fatalf("get jobs: %v", err)
	}
	byKind := make(map[models.JobKind]models.Job, len(jobs))
	for _, j := range jobs {
		byKind[j.Kind] = j
	}
	return byKind
}

func (f *pipelineFixture) batchState(t *testing.T, batchID string) models.BatchState {
	t.Helper()
	jobs, err := f.store.GetJobs(context.Background(), batchID)
	if err != nil {
		t.Fatalf("get jobs: %v", err)
	}
	return models.DeriveBatchState(jobs)
}

func TestPipelineCompletesAcrossPages(t *testing.T) {
	ctx := context.Background()
	items := makeMailItems(120)
	f := newPipelineFixture(t, items)

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	batchID := models.MustRecordIDString(batch.ID)

	state, err := f.store.GetSyncState(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("get sync state: %v", err)
	}
	if !state.Locked() {
		t.Fatal("expected sync lock held after StartSync")
	}

	f.drive(t)

	if got := f.batchState(t, batchID); got != models.BatchCompleted {
		t.Errorf("batch state = %s, want completed", got)
	}

	jobs := f.batchJobs(t, batchID)
	for _, kind := range models.JobKinds {
		j := jobs[kind]
		if j.Status != models.JobCompleted {
			t.Errorf("%s job status = %s, want completed", kind, j.Status)
		}
		if j.ProcessedItems != 120 {
			t.Errorf("%s processed = %d, want 120", kind, j.ProcessedItems)
		}
		if j.TotalItems == nil || *j.TotalItems != 120 {
			t.Errorf("%s total = %v, want 120", kind, j.TotalItems)
		}
		if j.ErroredItems != 0 {
			t.Errorf("%s errored = %d, want 0", kind, j.ErroredItems)
		}
	}

	// 120 items at page size 50 means exactly three fetches.
	if len(f.adapter.cursors) != 3 {
		t.Errorf("fetches = %d, want 3", len(f.adapter.cursors))
	}
	if _, ok := provider.ParseTimeCursor(f.adapter.cursors[0]); !ok {
		t.Errorf("first cursor %q should be the time window", f.adapter.cursors[0])
	}

	state, err = f.store.GetSyncState(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("get sync state: %v", err)
	}
	if state.Locked() {
		t.Error("sync lock still held after completion")
	}
	want := provider.TimeCursor(items[119].Timestamp)
	if state.Watermark == nil || *state.Watermark != want {
		t.Errorf("watermark = %v, want %s", state.Watermark, want)
	}

	contacts, err := f.store.ListContactCandidates(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("list contacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("contacts = %d, want 2", len(contacts))
	}
	if contacts[0].Occurrences != 120 {
		t.Errorf("top contact occurrences = %d, want 120", contacts[0].Occurrences)
	}
}

func TestIncrementalSyncStartsFromWatermark(t *testing.T) {
	ctx := context.Background()
	items := makeMailItems(10)
	f := newPipelineFixture(t, items)

	if _, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail); err != nil {
		t.Fatalf("start sync: %v", err)
	}
	f.drive(t)

	if _, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail); err != nil {
		t.Fatalf("second start sync: %v", err)
	}
	f.drive(t)

	first := f.adapter.cursors[0]
	second := f.adapter.cursors[1]
	if second != provider.TimeCursor(items[9].Timestamp) {
		t.Errorf("second sync cursor = %q, want committed watermark", second)
	}
	ft, _ := provider.ParseTimeCursor(first)
	st, _ := provider.ParseTimeCursor(second)
	if !st.After(ft) {
		t.Errorf("second cursor %v not after first %v", st, ft)
	}
}

func TestMalformedItemsCompleteWithErrors(t *testing.T) {
	ctx := context.Background()
	items := makeMailItems(120)
	for i := range items {
		if i%5 == 0 { // 24 of 120
			delete(items[i].Payload, "date")
		}
	}
	f := newPipelineFixture(t, items)

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	batchID := models.MustRecordIDString(batch.ID)

	f.drive(t)

	if got := f.batchState(t, batchID); got != models.BatchCompletedWithErrors {
		t.Errorf("batch state = %s, want completed_with_errors", got)
	}

	jobs := f.batchJobs(t, batchID)
	norm := jobs[models.JobNormalize]
	if norm.ProcessedItems != 96 || norm.ErroredItems != 24 {
		t.Errorf("normalize processed/errored = %d/%d, want 96/24", norm.ProcessedItems, norm.ErroredItems)
	}
	if norm.TotalItems == nil || *norm.TotalItems != 120 {
		t.Errorf("normalize total = %v, want 120", norm.TotalItems)
	}
	for _, kind := range []models.JobKind{models.JobExtract, models.JobEmbed} {
		if j := jobs[kind]; j.ProcessedItems != 96 {
			t.Errorf("%s processed = %d, want 96", kind, j.ProcessedItems)
		}
	}

	summary, err := f.store.GetErrorSummary(ctx, batchID)
	if err != nil {
		t.Fatalf("error summary: %v", err)
	}
	if summary.Count != 24 || summary.Reasons[models.ReasonMalformed] != 24 {
		t.Errorf("summary = %+v, want 24 malformed", summary)
	}

	// Partially failed but completed batches still advance the watermark.
	state, _ := f.store.GetSyncState(ctx, "user-1", models.ProviderMail)
	if state == nil || state.Watermark == nil {
		t.Error("expected committed watermark")
	}
}

func TestConcurrentStartSyncSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, makeMailItems(5))

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won, lost := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrAlreadySyncing):
			lost++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != attempts-1 {
		t.Errorf("winners/losers = %d/%d, want 1/%d", won, lost, attempts-1)
	}
}

func TestCredentialFailureMidImport(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, makeMailItems(120))
	f.adapter.failAt = 40
	f.adapter.failErr = fmt.Errorf("mail gateway status 401: %w", provider.ErrCredentialInvalid)

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	batchID := models.MustRecordIDString(batch.ID)

	f.drive(t)

	if got := f.batchState(t, batchID); got != models.BatchFailed {
		t.Errorf("batch state = %s, want failed", got)
	}
	jobs := f.batchJobs(t, batchID)
	if jobs[models.JobImport].Status != models.JobError {
		t.Errorf("import status = %s, want error", jobs[models.JobImport].Status)
	}
	// Downstream stages can never run once Import failed; the runner
	// resolves them instead of leaving them queued.
	for _, kind := range []models.JobKind{models.JobNormalize, models.JobExtract, models.JobEmbed} {
		if jobs[kind].Status != models.JobError {
			t.Errorf("%s status = %s, want error (skipped) after import failure", kind, jobs[kind].Status)
		}
	}

	// Items fetched before the failure stay for a later retry.
	if n := f.store.rawItemCount(batchID); n != 40 {
		t.Errorf("raw items kept = %d, want 40", n)
	}

	state, _ := f.store.GetSyncState(ctx, "user-1", models.ProviderMail)
	if state.Watermark != nil {
		t.Errorf("watermark = %q, want none after failed batch", *state.Watermark)
	}
	if state.Locked() {
		t.Error("sync lock still held after failed batch")
	}

	summary, err := f.store.GetErrorSummary(ctx, batchID)
	if err != nil {
		t.Fatalf("error summary: %v", err)
	}
	if summary.Reasons[models.ReasonCredentialInvalid] != 1 {
		t.Errorf("summary = %+v, want one credential_invalid", summary)
	}

	// The released lock lets the user sync again after reconnecting.
	f.adapter.clearFailure()
	if _, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail); err != nil {
		t.Errorf("start sync after failure: %v", err)
	}
}

func TestTransientFetchFailureExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, makeMailItems(10))
	f.adapter.failAt = 0
	f.adapter.failErr = fmt.Errorf("mail gateway status 503: %w", provider.ErrThrottled)

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	batchID := models.MustRecordIDString(batch.ID)

	f.drive(t)

	if got := f.batchState(t, batchID); got != models.BatchFailed {
		t.Errorf("batch state = %s, want failed", got)
	}
	records, err := f.store.ListBatchErrors(ctx, batchID)
	if err != nil {
		t.Fatalf("list errors: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("error records = %d, want 3 attempts", len(records))
	}
	if last := records[2]; last.Attempt != 3 || last.Reason != models.ReasonTransient {
		t.Errorf("last record = %+v, want transient attempt 3", last)
	}
}

func TestTransientEmbedFailureRecoversWithinBatch(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, makeMailItems(5))
	f.embedder.fail = map[string]int{"m003": 1}

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	batchID := models.MustRecordIDString(batch.ID)

	f.drive(t)

	if got := f.batchState(t, batchID); got != models.BatchCompleted {
		t.Errorf("batch state = %s, want completed", got)
	}
	embed := f.batchJobs(t, batchID)[models.JobEmbed]
	if embed.ProcessedItems != 5 || embed.ErroredItems != 0 {
		t.Errorf("embed processed/errored = %d/%d, want 5/0", embed.ProcessedItems, embed.ErroredItems)
	}
}

func TestFatalEmbedFailureStillFinishesBatch(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, makeMailItems(10))
	f.embedder.fatal = true

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	batchID := models.MustRecordIDString(batch.ID)

	f.drive(t)

	if got := f.batchState(t, batchID); got != models.BatchCompletedWithErrors {
		t.Errorf("batch state = %s, want completed_with_errors", got)
	}
	jobs := f.batchJobs(t, batchID)
	if jobs[models.JobEmbed].Status != models.JobError {
		t.Errorf("embed status = %s, want error", jobs[models.JobEmbed].Status)
	}
	if got := jobs[models.JobImport].ProcessedItems; got != 10 {
		t.Errorf("import processed = %d, want 10", got)
	}

	// The import paginated the whole window, so the batch is terminal,
	// the watermark commits, and the lock is free for the next sync.
	state, _ := f.store.GetSyncState(ctx, "user-1", models.ProviderMail)
	want := provider.TimeCursor(itemBase.Add(9 * time.Minute))
	if state.Watermark == nil || *state.Watermark != want {
		t.Errorf("watermark = %v, want %s", state.Watermark, want)
	}
	if state.Locked() {
		t.Error("sync lock still held after terminal batch")
	}

	f.embedder.fatal = false
	if _, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail); err != nil {
		t.Errorf("start sync after embed failure: %v", err)
	}
}

func TestRetryFailedEmbedItems(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, makeMailItems(5))
	f.embedder.fail = map[string]int{"m002": -1}

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	batchID := models.MustRecordIDString(batch.ID)
	f.drive(t)

	if got := f.batchState(t, batchID); got != models.BatchCompletedWithErrors {
		t.Fatalf("batch state = %s, want completed_with_errors", got)
	}
	embed := f.batchJobs(t, batchID)[models.JobEmbed]
	if embed.ProcessedItems != 4 || embed.ErroredItems != 1 {
		t.Fatalf("embed processed/errored = %d/%d, want 4/1", embed.ProcessedItems, embed.ErroredItems)
	}

	stateBefore, _ := f.store.GetSyncState(ctx, "user-1", models.ProviderMail)

	f.embedder.clearFailures()
	retry, err := f.orch.RetryFailed(ctx, batchID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	retryID := models.MustRecordIDString(retry.ID)

	if retry.FromKind != models.JobEmbed {
		t.Errorf("retry from = %s, want embed", retry.FromKind)
	}
	if len(retry.ItemScope) != 1 || retry.ItemScope[0] != "m002" {
		t.Errorf("retry scope = %v, want [m002]", retry.ItemScope)
	}
	if retry.RetryOf == nil || *retry.RetryOf != batchID {
		t.Errorf("retry_of = %v, want %s", retry.RetryOf, batchID)
	}

	// Stages before embed are created already completed.
	jobs := f.batchJobs(t, retryID)
	for _, kind := range []models.JobKind{models.JobImport, models.JobNormalize, models.JobExtract} {
		if jobs[kind].Status != models.JobCompleted {
			t.Errorf("%s status = %s, want pre-completed", kind, jobs[kind].Status)
		}
	}

	f.drive(t)

	if got := f.batchState(t, retryID); got != models.BatchCompleted {
		t.Errorf("retry state = %s, want completed", got)
	}
	embed = f.batchJobs(t, retryID)[models.JobEmbed]
	if embed.ProcessedItems != 1 {
		t.Errorf("retry embed processed = %d, want 1", embed.ProcessedItems)
	}

	// Retry batches never move the watermark.
	stateAfter, _ := f.store.GetSyncState(ctx, "user-1", models.ProviderMail)
	if *stateAfter.Watermark != *stateBefore.Watermark {
		t.Errorf("watermark moved from %s to %s", *stateBefore.Watermark, *stateAfter.Watermark)
	}
	if stateAfter.Locked() {
		t.Error("sync lock still held after retry batch")
	}
}

func TestRetryAfterFailedImportRefetches(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, makeMailItems(120))
	f.adapter.failAt = 40
	f.adapter.failErr = fmt.Errorf("mail gateway status 401: %w", provider.ErrCredentialInvalid)

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	batchID := models.MustRecordIDString(batch.ID)
	f.drive(t)

	f.adapter.clearFailure()
	retry, err := f.orch.RetryFailed(ctx, batchID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	retryID := models.MustRecordIDString(retry.ID)

	if retry.FromKind != models.JobImport || len(retry.ItemScope) != 0 {
		t.Errorf("retry from/scope = %s/%v, want full import retry", retry.FromKind, retry.ItemScope)
	}

	f.drive(t)

	if got := f.batchState(t, retryID); got != models.BatchCompleted {
		t.Errorf("retry state = %s, want completed", got)
	}
	if got := f.batchJobs(t, retryID)[models.JobImport].ProcessedItems; got != 120 {
		t.Errorf("retry import processed = %d, want 120", got)
	}

	// A successful full re-import commits its watermark like a first sync
	// would; the next sync must not re-fetch the whole window again.
	state, _ := f.store.GetSyncState(ctx, "user-1", models.ProviderMail)
	want := provider.TimeCursor(itemBase.Add(119 * time.Minute))
	if state.Watermark == nil || *state.Watermark != want {
		t.Errorf("watermark = %v, want %s after completed re-import retry", state.Watermark, want)
	}
	if state.Locked() {
		t.Error("sync lock still held after retry batch finished")
	}
}

func TestRetryOnActiveBatch(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, makeMailItems(5))

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}

	_, err = f.orch.RetryFailed(ctx, models.MustRecordIDString(batch.ID))
	if !errors.Is(err, ErrBatchActive) {
		t.Errorf("retry on active batch = %v, want ErrBatchActive", err)
	}
}

func TestRetryWithNothingToRetry(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, makeMailItems(5))

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	f.drive(t)

	_, err = f.orch.RetryFailed(ctx, models.MustRecordIDString(batch.ID))
	if !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("retry on clean batch = %v, want ErrNothingToRetry", err)
	}
}

func TestFilteredCollections(t *testing.T) {
	ctx := context.Background()
	items := makeMailItems(6)
	items[1].Collection = "archive"
	items[4].Collection = "archive"
	f := newPipelineFixture(t, items)

	prefs := models.DefaultPreferences("user-1", models.ProviderMail)
	prefs.Collections = []string{"inbox"}
	if err := f.store.UpsertPreferences(ctx, prefs); err != nil {
		t.Fatalf("save preferences: %v", err)
	}

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	batchID := models.MustRecordIDString(batch.ID)
	f.drive(t)

	if got := f.batchState(t, batchID); got != models.BatchCompleted {
		t.Errorf("batch state = %s, want completed", got)
	}

	jobs := f.batchJobs(t, batchID)
	if got := jobs[models.JobImport].ProcessedItems; got != 6 {
		t.Errorf("import processed = %d, want 6 (filtered items count)", got)
	}
	if n := f.store.rawItemCount(batchID); n != 4 {
		t.Errorf("raw items = %d, want 4", n)
	}
	if got := jobs[models.JobNormalize].ProcessedItems; got != 4 {
		t.Errorf("normalize processed = %d, want 4", got)
	}

	// Filtered audit rows are not errors and not retryable.
	summary, err := f.store.GetErrorSummary(ctx, batchID)
	if err != nil {
		t.Fatalf("error summary: %v", err)
	}
	if summary.Count != 0 {
		t.Errorf("summary count = %d, want 0", summary.Count)
	}
	if _, err := f.orch.RetryFailed(ctx, batchID); !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("retry = %v, want ErrNothingToRetry", err)
	}

	// Filtered items still advance the watermark.
	state, _ := f.store.GetSyncState(ctx, "user-1", models.ProviderMail)
	want := provider.TimeCursor(items[5].Timestamp)
	if state.Watermark == nil || *state.Watermark != want {
		t.Errorf("watermark = %v, want %s", state.Watermark, want)
	}
}

func TestStagesRunInDependencyOrder(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, makeMailItems(10))

	batch, err := f.orch.StartSync(ctx, "user-1", models.ProviderMail)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	batchID := models.MustRecordIDString(batch.ID)

	if _, err := f.runner.RunPending(ctx); err != nil {
		t.Fatalf("run pending: %v", err)
	}

	jobs := f.batchJobs(t, batchID)
	if jobs[models.JobImport].Status != models.JobCompleted {
		t.Errorf("import status = %s, want completed after first pass", jobs[models.JobImport].Status)
	}
	for _, kind := range []models.JobKind{models.JobExtract, models.JobEmbed} {
		j := jobs[kind]
		if j.ProcessedItems != 0 || j.Status != models.JobQueued {
			t.Errorf("%s ran before its dependency completed: %+v", kind, j)
		}
	}
}
