package db

import "fmt"

// schemaSQL returns the database schema initialization SQL. The embedding
// dimension varies with the configured embedding model, so the HNSW index
// is templated.
func schemaSQL(embedDim int) string {
	return fmt.Sprintf(`
    -- ==========================================================================
    -- CONNECTION TABLE (provider account links, keyed user_provider)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS connection SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON connection TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON connection TYPE string;
    DEFINE FIELD IF NOT EXISTS connected ON connection TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS scopes ON connection TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS connected_at ON connection TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS connection_user ON connection FIELDS user_id;

    -- ==========================================================================
    -- PREFERENCE TABLE (per user+provider sync configuration)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS preference SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON preference TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON preference TYPE string;
    DEFINE FIELD IF NOT EXISTS window_days ON preference TYPE int DEFAULT 90;
    DEFINE FIELD IF NOT EXISTS collections ON preference TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS include_body ON preference TYPE bool DEFAULT true;
    DEFINE FIELD IF NOT EXISTS include_attendees ON preference TYPE bool DEFAULT true;

    DEFINE INDEX IF NOT EXISTS preference_user ON preference FIELDS user_id;

    -- ==========================================================================
    -- SYNC_STATE TABLE (watermark + single-active-batch lock, keyed user_provider)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS sync_state SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON sync_state TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON sync_state TYPE string;
    DEFINE FIELD IF NOT EXISTS watermark ON sync_state TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS watermark_at ON sync_state TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS lock_batch ON sync_state TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS locked_at ON sync_state TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS updated_at ON sync_state TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS sync_state_user ON sync_state FIELDS user_id;

    -- ==========================================================================
    -- SYNC_BATCH TABLE (one manual sync invocation)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS sync_batch SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON sync_batch TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON sync_batch TYPE string;
    DEFINE FIELD IF NOT EXISTS preferences ON sync_batch TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS retry_of ON sync_batch TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS item_scope ON sync_batch TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS from_kind ON sync_batch TYPE string DEFAULT 'import';
    DEFINE FIELD IF NOT EXISTS watermark_candidate ON sync_batch TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON sync_batch TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS sync_batch_user ON sync_batch FIELDS user_id;

    -- ==========================================================================
    -- SYNC_JOB TABLE (one pipeline stage within a batch)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS sync_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS batch_id ON sync_job TYPE string;
    DEFINE FIELD IF NOT EXISTS user_id ON sync_job TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON sync_job TYPE string;
    DEFINE FIELD IF NOT EXISTS kind ON sync_job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON sync_job TYPE string DEFAULT 'queued';
    DEFINE FIELD IF NOT EXISTS depends_on ON sync_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS cursor ON sync_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS total_items ON sync_job TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS processed_items ON sync_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS errored_items ON sync_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS error_message ON sync_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON sync_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON sync_job TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS sync_job_batch ON sync_job FIELDS batch_id;
    DEFINE INDEX IF NOT EXISTS sync_job_status ON sync_job FIELDS status;

    -- ==========================================================================
    -- RAW_ITEM TABLE (provider items as fetched, keyed user_provider_item)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS raw_item SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON raw_item TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON raw_item TYPE string;
    DEFINE FIELD IF NOT EXISTS provider_item_id ON raw_item TYPE string;
    DEFINE FIELD IF NOT EXISTS batch_id ON raw_item TYPE string;
    DEFINE FIELD IF NOT EXISTS collection ON raw_item TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS payload ON raw_item TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS fetched_at ON raw_item TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS raw_item_batch ON raw_item FIELDS batch_id;
    DEFINE INDEX IF NOT EXISTS raw_item_user_provider ON raw_item FIELDS user_id, provider;

    -- ==========================================================================
    -- PROCESSED_RECORD TABLE (canonical form, keyed user_provider_item)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS processed_record SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON processed_record TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON processed_record TYPE string;
    DEFINE FIELD IF NOT EXISTS provider_item_id ON processed_record TYPE string;
    DEFINE FIELD IF NOT EXISTS batch_id ON processed_record TYPE string;
    DEFINE FIELD IF NOT EXISTS kind ON processed_record TYPE string;
    DEFINE FIELD IF NOT EXISTS title ON processed_record TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS body ON processed_record TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS participants ON processed_record TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS collection ON processed_record TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS occurred_at ON processed_record TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS embedding ON processed_record TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedded_at ON processed_record TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS extracted_at ON processed_record TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS created_at ON processed_record TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS processed_batch ON processed_record FIELDS batch_id;
    DEFINE INDEX IF NOT EXISTS processed_user_provider ON processed_record FIELDS user_id, provider;
    DEFINE INDEX IF NOT EXISTS processed_embedding ON processed_record FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
    DEFINE ANALYZER IF NOT EXISTS record_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS processed_body_ft ON processed_record FIELDS body FULLTEXT ANALYZER record_analyzer BM25;

    -- ==========================================================================
    -- ERROR_RECORD TABLE (append-only item-level failures)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS error_record SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS batch_id ON error_record TYPE string;
    DEFINE FIELD IF NOT EXISTS job_id ON error_record TYPE string;
    DEFINE FIELD IF NOT EXISTS kind ON error_record TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON error_record TYPE string;
    DEFINE FIELD IF NOT EXISTS provider_item_id ON error_record TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS reason ON error_record TYPE string;
    DEFINE FIELD IF NOT EXISTS message ON error_record TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS attempt ON error_record TYPE int DEFAULT 1;
    DEFINE FIELD IF NOT EXISTS created_at ON error_record TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS error_batch ON error_record FIELDS batch_id;
    DEFINE INDEX IF NOT EXISTS error_batch_item ON error_record FIELDS batch_id, kind, provider_item_id;

    -- ==========================================================================
    -- CONTACT_CANDIDATE TABLE (secondary entities from Extract, keyed user+email)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS contact_candidate SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON contact_candidate TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON contact_candidate TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS email ON contact_candidate TYPE string;
    DEFINE FIELD IF NOT EXISTS source_item ON contact_candidate TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS occurrences ON contact_candidate TYPE int DEFAULT 1;
    DEFINE FIELD IF NOT EXISTS created_at ON contact_candidate TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS contact_user ON contact_candidate FIELDS user_id;
`, embedDim)
}
