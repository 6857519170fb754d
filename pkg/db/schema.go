package db

const schema = `
-- Performance and reliability settings
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
PRAGMA temp_store = MEMORY;

-- Load runs: one row per manifest load
CREATE TABLE IF NOT EXISTS load_runs (
    run_id TEXT PRIMARY KEY,
    manifest_path TEXT,
    base_url TEXT,
    device TEXT NOT NULL,
    status TEXT NOT NULL,           -- success, degraded, critical_failure, cancelled
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    total INTEGER NOT NULL DEFAULT 0,
    loaded INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    bytes INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_load_runs_started ON load_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_load_runs_status ON load_runs(status);

-- Asset results: settled outcome of every manifest entry within a run
CREATE TABLE IF NOT EXISTS asset_results (
    result_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    asset_key TEXT NOT NULL,
    url TEXT NOT NULL,
    tier TEXT NOT NULL,             -- critical, secondary
    attempts INTEGER NOT NULL DEFAULT 0,
    size_bytes INTEGER DEFAULT 0,
    cached BOOLEAN DEFAULT 0,
    duration_ms INTEGER DEFAULT 0,
    error_type TEXT,                -- invalid_url, timeout, load_error
    error_message TEXT,
    FOREIGN KEY (run_id) REFERENCES load_runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_asset_results_run ON asset_results(run_id);
CREATE INDEX IF NOT EXISTS idx_asset_results_failed ON asset_results(error_type) WHERE error_type IS NOT NULL;
`
