package db

// tables lists every table in deletion order.
var tables = []string{"extracted_item", "profile", "upload_job", "session", "engagement", "operation_log"}

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- UPLOAD JOB TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS upload_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS design_week_id ON upload_job TYPE string;
    DEFINE FIELD IF NOT EXISTS session_id ON upload_job TYPE string;
    DEFINE FIELD IF NOT EXISTS artifact ON upload_job TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS options ON upload_job TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS status ON upload_job TYPE string
        ASSERT $value IN ["QUEUED", "PROCESSING", "COMPLETE", "FAILED"];
    DEFINE FIELD IF NOT EXISTS current_stage ON upload_job TYPE string;
    DEFINE FIELD IF NOT EXISTS stage_progress ON upload_job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON upload_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS retry_of ON upload_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON upload_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON upload_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS completed_at ON upload_job TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS upload_job_design_week ON upload_job FIELDS design_week_id;
    DEFINE INDEX IF NOT EXISTS upload_job_status ON upload_job FIELDS status;

    -- ==========================================================================
    -- SESSION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS design_week_id ON session TYPE string;
    DEFINE FIELD IF NOT EXISTS upload_job_id ON session TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS session_type ON session TYPE string;
    DEFINE FIELD IF NOT EXISTS processing_status ON session TYPE string;
    DEFINE FIELD IF NOT EXISTS classification ON session TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS classification_confidence ON session TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS processing_error ON session TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON session TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON session TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- EXTRACTED ITEM TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS extracted_item SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS session_id ON extracted_item TYPE string;
    DEFINE FIELD IF NOT EXISTS design_week_id ON extracted_item TYPE string;
    DEFINE FIELD IF NOT EXISTS type ON extracted_item TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON extracted_item TYPE string;
    DEFINE FIELD IF NOT EXISTS payload ON extracted_item TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS confidence ON extracted_item TYPE float
        ASSERT $value >= 0 AND $value <= 1;
    DEFINE FIELD IF NOT EXISTS status ON extracted_item TYPE string;
    DEFINE FIELD IF NOT EXISTS provenance ON extracted_item TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS stage ON extracted_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS position ON extracted_item TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON extracted_item TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS extracted_item_session ON extracted_item FIELDS session_id;

    -- ==========================================================================
    -- PROFILE TABLE (populated tabs, keyed by session id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS profile SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS design_week_id ON profile TYPE string;
    DEFINE FIELD IF NOT EXISTS sections ON profile TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS updated_at ON profile TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- ENGAGEMENT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS engagement SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON engagement TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS phase ON engagement TYPE int DEFAULT 0;

    -- ==========================================================================
    -- OPERATION LOG TABLE (append-only)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS operation_log SCHEMAFULL
        PERMISSIONS FOR update, delete NONE;
    DEFINE FIELD IF NOT EXISTS pipeline ON operation_log TYPE string;
    DEFINE FIELD IF NOT EXISTS model ON operation_log TYPE string;
    DEFINE FIELD IF NOT EXISTS input_tokens ON operation_log TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS output_tokens ON operation_log TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS latency_ms ON operation_log TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS success ON operation_log TYPE bool;
    DEFINE FIELD IF NOT EXISTS error ON operation_log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS job_id ON operation_log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS session_id ON operation_log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON operation_log TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS operation_log_created ON operation_log FIELDS created_at;
`
