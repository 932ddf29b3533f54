package store

// schemaSQL is the DDL for the learning tables.
const schemaSQL = `
-- One row per user-approved analysis
CREATE TABLE IF NOT EXISTS corrections (
    id INTEGER PRIMARY KEY,
    record_id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL DEFAULT '',
    doc_type TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    original JSON NOT NULL,
    final JSON NOT NULL,
    original_confidence REAL DEFAULT 0,
    accuracy REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Field-level differences between the original and the approved result
CREATE TABLE IF NOT EXISTS field_modifications (
    id INTEGER PRIMARY KEY,
    correction_id INTEGER NOT NULL REFERENCES corrections(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL DEFAULT '',
    doc_type TEXT NOT NULL DEFAULT '',
    field TEXT NOT NULL,
    modification_type TEXT NOT NULL,
    original_value TEXT,
    final_value TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_corrections_user_type ON corrections(user_id, doc_type);
CREATE INDEX IF NOT EXISTS idx_corrections_created ON corrections(created_at);
CREATE INDEX IF NOT EXISTS idx_field_mods_correction ON field_modifications(correction_id);
`
