package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jkoenig/syncwell/internal/db"
	"github.com/jkoenig/syncwell/internal/models"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// memStore is an in-memory Store with the same visible semantics as
// db.Client: deterministic record keys, conditional job claims, CAS sync
// locks, append-only error records with attempt counting.
type memStore struct {
	mu sync.Mutex

	batches    map[string]*models.Batch
	batchOrder []string
	jobs       map[string]*models.Job
	jobOrder   []string

	raw      map[string]*models.RawItem
	rawOrder []string
	recs     map[string]*models.ProcessedRecord
	recOrder []string
	contacts map[string]*models.ContactCandidate

	errs []models.ErrorRecord

	states map[string]*models.SyncState
	conns  map[string]*models.Connection
	prefs  map[string]*models.Preferences
}

func newMemStore() *memStore {
	return &memStore{
		batches:  map[string]*models.Batch{},
		jobs:     map[string]*models.Job{},
		raw:      map[string]*models.RawItem{},
		recs:     map[string]*models.ProcessedRecord{},
		contacts: map[string]*models.ContactCandidate{},
		states:   map[string]*models.SyncState{},
		conns:    map[string]*models.Connection{},
		prefs:    map[string]*models.Preferences{},
	}
}

func recordID(table, id string) surrealmodels.RecordID {
	return surrealmodels.RecordID{Table: table, ID: id}
}

func (m *memStore) CreateBatch(_ context.Context, id string, batch models.Batch) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[id]; ok {
		return nil, fmt.Errorf("batch %s exists", id)
	}
	batch.ID = recordID("sync_batch", id)
	batch.CreatedAt = time.Now().UTC()
	m.batches[id] = &batch
	m.batchOrder = append(m.batchOrder, id)
	copied := batch
	return &copied, nil
}

func (m *memStore) GetBatch(_ context.Context, id string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("get batch %s: %w", id, db.ErrNotFound)
	}
	copied := *b
	return &copied, nil
}

func (m *memStore) ListBatches(_ context.Context, userID string, provider *models.Provider, limit int) ([]models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Batch
	for i := len(m.batchOrder) - 1; i >= 0 && len(out) < limit; i-- {
		b := m.batches[m.batchOrder[i]]
		if b.UserID != userID {
			continue
		}
		if provider != nil && b.Provider != *provider {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

func (m *memStore) SetWatermarkCandidate(_ context.Context, batchID, candidate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[batchID]; ok {
		c := candidate
		b.WatermarkCandidate = &c
	}
	return nil
}

func (m *memStore) CreateJob(_ context.Context, id string, job models.Job) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; ok {
		return nil, fmt.Errorf("job %s exists", id)
	}
	job.ID = recordID("sync_job", id)
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	m.jobs[id] = &job
	m.jobOrder = append(m.jobOrder, id)
	copied := job
	return &copied, nil
}

func (m *memStore) GetJobs(_ context.Context, batchID string) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Job
	for _, id := range m.jobOrder {
		if j := m.jobs[id]; j.BatchID == batchID {
			out = append(out, *j)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Kind.Order() < out[j].Kind.Order()
	})
	return out, nil
}

func (m *memStore) ListQueuedJobs(_ context.Context, limit int) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Job
	for _, id := range m.jobOrder {
		if len(out) >= limit {
			break
		}
		if j := m.jobs[id]; j.Status == models.JobQueued {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memStore) ListJobsForUser(_ context.Context, userID string) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Job
	for _, id := range m.jobOrder {
		if j := m.jobs[id]; j.UserID == userID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memStore) ClaimJob(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != models.JobQueued {
		return false, nil
	}
	j.Status = models.JobRunning
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memStore) RequeueJob(_ context.Context, jobID string, p models.JobProgress) error {
	return m.updateJob(jobID, models.JobQueued, p)
}

func (m *memStore) CompleteJob(_ context.Context, jobID string, p models.JobProgress) error {
	return m.updateJob(jobID, models.JobCompleted, p)
}

func (m *memStore) FailJob(_ context.Context, jobID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, db.ErrNotFound)
	}
	j.Status = models.JobError
	j.ErrorMessage = &message
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) updateJob(jobID string, status models.JobStatus, p models.JobProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, db.ErrNotFound)
	}
	j.Status = status
	j.Cursor = p.Cursor
	j.TotalItems = p.TotalItems
	j.ProcessedItems = p.ProcessedItems
	j.ErroredItems = p.ErroredItems
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) UpsertRawItem(_ context.Context, item models.RawItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := models.ItemKey(item.UserID, item.Provider, item.ProviderItemID)
	if _, ok := m.raw[key]; !ok {
		m.rawOrder = append(m.rawOrder, key)
	}
	item.ID = recordID("raw_item", key)
	item.FetchedAt = time.Now().UTC()
	m.raw[key] = &item
	return nil
}

func (m *memStore) inScope(f db.PendingFilter, userID string, provider models.Provider, itemID, batchID string) bool {
	if userID != f.UserID || provider != f.Provider {
		return false
	}
	if len(f.ItemScope) > 0 {
		for _, id := range f.ItemScope {
			if id == itemID {
				return true
			}
		}
		return false
	}
	return batchID == f.BatchID
}

// disqualified mirrors the pending-query error exclusion: an error record
// in this batch for this stage that is non-retryable or out of attempts.
func (m *memStore) disqualified(f db.PendingFilter, kind models.JobKind, itemID string) bool {
	for _, e := range m.errs {
		if e.BatchID != f.BatchID || e.Kind != kind || e.ProviderItemID != itemID {
			continue
		}
		if e.Reason != models.ReasonTransient || e.Attempt >= f.MaxAttempts {
			return true
		}
	}
	return false
}

func (m *memStore) CountRawItems(_ context.Context, f db.PendingFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, key := range m.rawOrder {
		it := m.raw[key]
		if m.inScope(f, it.UserID, it.Provider, it.ProviderItemID, it.BatchID) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountProcessedRecords(_ context.Context, f db.PendingFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, key := range m.recOrder {
		r := m.recs[key]
		if m.inScope(f, r.UserID, r.Provider, r.ProviderItemID, r.BatchID) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListPendingNormalize(_ context.Context, f db.PendingFilter) ([]models.RawItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RawItem
	for _, key := range m.rawOrder {
		if len(out) >= f.Limit {
			break
		}
		it := m.raw[key]
		if !m.inScope(f, it.UserID, it.Provider, it.ProviderItemID, it.BatchID) {
			continue
		}
		if _, done := m.recs[key]; done {
			continue
		}
		if m.disqualified(f, models.JobNormalize, it.ProviderItemID) {
			continue
		}
		out = append(out, *it)
	}
	return out, nil
}

func (m *memStore) ListPendingExtract(_ context.Context, f db.PendingFilter) ([]models.ProcessedRecord, error) {
	return m.listPendingRecords(f, models.JobExtract)
}

func (m *memStore) ListPendingEmbed(_ context.Context, f db.PendingFilter) ([]models.ProcessedRecord, error) {
	return m.listPendingRecords(f, models.JobEmbed)
}

func (m *memStore) listPendingRecords(f db.PendingFilter, kind models.JobKind) ([]models.ProcessedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ProcessedRecord
	for _, key := range m.recOrder {
		if len(out) >= f.Limit {
			break
		}
		r := m.recs[key]
		if !m.inScope(f, r.UserID, r.Provider, r.ProviderItemID, r.BatchID) {
			continue
		}
		if kind == models.JobExtract && r.ExtractedAt != nil {
			continue
		}
		if kind == models.JobEmbed && r.EmbeddedAt != nil {
			continue
		}
		if m.disqualified(f, kind, r.ProviderItemID) {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (m *memStore) UpsertProcessedRecord(_ context.Context, rec models.ProcessedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := models.ItemKey(rec.UserID, rec.Provider, rec.ProviderItemID)
	if prev, ok := m.recs[key]; ok {
		// Stage markers survive a re-normalize.
		rec.ExtractedAt = prev.ExtractedAt
		rec.EmbeddedAt = prev.EmbeddedAt
		rec.Embedding = prev.Embedding
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = time.Now().UTC()
		m.recOrder = append(m.recOrder, key)
	}
	rec.ID = recordID("processed_record", key)
	m.recs[key] = &rec
	return nil
}

func (m *memStore) MarkExtracted(_ context.Context, userID string, provider models.Provider, providerItemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recs[models.ItemKey(userID, provider, providerItemID)]; ok {
		now := time.Now().UTC()
		r.ExtractedAt = &now
	}
	return nil
}

func (m *memStore) SetEmbedding(_ context.Context, userID string, provider models.Provider, providerItemID string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recs[models.ItemKey(userID, provider, providerItemID)]; ok {
		now := time.Now().UTC()
		r.Embedding = embedding
		r.EmbeddedAt = &now
	}
	return nil
}

func (m *memStore) UpsertContactCandidate(_ context.Context, cand models.ContactCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := models.ContactKey(cand.UserID, cand.Email)
	if prev, ok := m.contacts[key]; ok {
		prev.Occurrences++
		if prev.Name == "" {
			prev.Name = cand.Name
		}
		prev.SourceItem = cand.SourceItem
		return nil
	}
	cand.ID = recordID("contact_candidate", key)
	cand.Occurrences = 1
	cand.CreatedAt = time.Now().UTC()
	m.contacts[key] = &cand
	return nil
}

func (m *memStore) ListContactCandidates(_ context.Context, userID string, limit int) ([]models.ContactCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ContactCandidate
	for _, c := range m.contacts {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Occurrences > out[j].Occurrences })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) AppendError(_ context.Context, in models.ErrorInput) (*models.ErrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt := 1
	for _, e := range m.errs {
		if e.BatchID == in.BatchID && e.Kind == in.Kind && e.ProviderItemID == in.ProviderItemID {
			attempt++
		}
	}
	rec := models.ErrorRecord{
		ID:             recordID("error_record", fmt.Sprintf("e%d", len(m.errs)+1)),
		BatchID:        in.BatchID,
		JobID:          in.JobID,
		Kind:           in.Kind,
		Provider:       in.Provider,
		ProviderItemID: in.ProviderItemID,
		Reason:         in.Reason,
		Message:        in.Message,
		Attempt:        attempt,
		CreatedAt:      time.Now().UTC(),
	}
	m.errs = append(m.errs, rec)
	copied := rec
	return &copied, nil
}

func (m *memStore) ListBatchErrors(_ context.Context, batchID string) ([]models.ErrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ErrorRecord
	for _, e := range m.errs {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) GetErrorSummary(_ context.Context, batchID string) (*models.ErrorSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := &models.ErrorSummary{BatchID: batchID, Reasons: map[models.ReasonCode]int{}}
	for _, e := range m.errs {
		if e.BatchID != batchID || e.Reason == models.ReasonFiltered {
			continue
		}
		summary.Reasons[e.Reason]++
		summary.Count++
	}
	return summary, nil
}

func (m *memStore) GetSyncState(_ context.Context, userID string, provider models.Provider) (*models.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[models.StateKey(userID, provider)]
	if !ok {
		return nil, nil
	}
	copied := *st
	return &copied, nil
}

func (m *memStore) AcquireSyncLock(_ context.Context, userID string, provider models.Provider, batchID string, expiry time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := models.StateKey(userID, provider)
	st, ok := m.states[key]
	if !ok {
		st = &models.SyncState{
			ID:       recordID("sync_state", key),
			UserID:   userID,
			Provider: provider,
		}
		m.states[key] = st
	}
	free := st.LockBatchID == nil ||
		(st.LockedAt != nil && time.Since(*st.LockedAt) > expiry)
	if !free {
		return false, nil
	}
	now := time.Now().UTC()
	id := batchID
	st.LockBatchID = &id
	st.LockedAt = &now
	st.UpdatedAt = now
	return true, nil
}

func (m *memStore) ReleaseSyncLock(_ context.Context, userID string, provider models.Provider, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[models.StateKey(userID, provider)]
	if !ok || st.LockBatchID == nil || *st.LockBatchID != batchID {
		return nil
	}
	st.LockBatchID = nil
	st.LockedAt = nil
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) CommitWatermark(_ context.Context, userID string, provider models.Provider, watermark string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := models.StateKey(userID, provider)
	st, ok := m.states[key]
	if !ok {
		st = &models.SyncState{
			ID:       recordID("sync_state", key),
			UserID:   userID,
			Provider: provider,
		}
		m.states[key] = st
	}
	now := time.Now().UTC()
	w := watermark
	st.Watermark = &w
	st.WatermarkAt = &now
	st.UpdatedAt = now
	return nil
}

func (m *memStore) UpsertConnection(_ context.Context, conn models.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := models.StateKey(conn.UserID, conn.Provider)
	conn.ID = recordID("connection", key)
	m.conns[key] = &conn
	return nil
}

func (m *memStore) GetConnection(_ context.Context, userID string, provider models.Provider) (*models.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[models.StateKey(userID, provider)]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) ListConnections(_ context.Context, userID string) ([]models.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Connection
	for _, c := range m.conns {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (m *memStore) UpsertPreferences(_ context.Context, prefs models.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[models.StateKey(prefs.UserID, prefs.Provider)] = &prefs
	return nil
}

func (m *memStore) GetPreferences(_ context.Context, userID string, provider models.Provider) (*models.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[models.StateKey(userID, provider)]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

// rawItemCount reports how many raw items a batch stored, for assertions.
func (m *memStore) rawItemCount(batchID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, key := range m.rawOrder {
		if m.raw[key].BatchID == batchID {
			n++
		}
	}
	return n
}
