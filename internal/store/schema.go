package store

// Migrate creates the necessary tables and indexes if they don't exist.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Policy},
		{2, migrationV2Episodic},
		{3, migrationV3Semantic},
		{4, migrationV4Cache},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return err
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Policy = `
CREATE TABLE IF NOT EXISTS budget_allocations (
	tenant_id TEXT PRIMARY KEY,
	total REAL NOT NULL,
	used REAL NOT NULL DEFAULT 0,
	reserved REAL NOT NULL DEFAULT 0,
	period_start DATETIME NOT NULL,
	period_end DATETIME NOT NULL,
	rollover INTEGER NOT NULL DEFAULT 0,
	overage_limit REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS rate_limits (
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	resource TEXT NOT NULL,
	limit_count INTEGER NOT NULL,
	window_seconds INTEGER NOT NULL,
	current_count INTEGER NOT NULL DEFAULT 0,
	window_start DATETIME NOT NULL,
	PRIMARY KEY (tenant_id, user_id, resource)
);

CREATE TABLE IF NOT EXISTS policy_violations (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	description TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	user_id TEXT,
	task_id TEXT,
	metadata TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_violations_tenant ON policy_violations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_violations_type ON policy_violations(type);
CREATE INDEX IF NOT EXISTS idx_violations_created_at ON policy_violations(created_at);
`

const migrationV2Episodic = `
CREATE TABLE IF NOT EXISTS episodic_records (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	agent_id TEXT,
	user_id TEXT,
	tenant_id TEXT,
	interaction_type TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT,
	tags TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodic_session ON episodic_records(session_id);
CREATE INDEX IF NOT EXISTS idx_episodic_created_at ON episodic_records(created_at);
CREATE INDEX IF NOT EXISTS idx_episodic_type ON episodic_records(interaction_type);

CREATE TABLE IF NOT EXISTS session_summaries (
	session_id TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	interaction_count INTEGER NOT NULL DEFAULT 0,
	agents TEXT,
	topics TEXT,
	closed INTEGER NOT NULL DEFAULT 0
);
`

const migrationV3Semantic = `
CREATE TABLE IF NOT EXISTS knowledge_items (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	domain TEXT,
	tags TEXT,
	confidence REAL NOT NULL DEFAULT 0.5,
	source TEXT,
	access_count INTEGER NOT NULL DEFAULT 0,
	embedding BLOB,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_domain ON knowledge_items(domain);
CREATE INDEX IF NOT EXISTS idx_knowledge_type ON knowledge_items(type);
CREATE INDEX IF NOT EXISTS idx_knowledge_confidence ON knowledge_items(confidence DESC);

CREATE TABLE IF NOT EXISTS knowledge_patterns (
	id TEXT PRIMARY KEY,
	condition TEXT NOT NULL,
	action TEXT NOT NULL,
	domain TEXT,
	success_rate REAL NOT NULL DEFAULT 0,
	usage_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patterns_domain ON knowledge_patterns(domain);
CREATE INDEX IF NOT EXISTS idx_patterns_success ON knowledge_patterns(success_rate DESC);
`

const migrationV4Cache = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	value BLOB NOT NULL,
	size_bytes INTEGER NOT NULL,
	tags TEXT,
	tenant_id TEXT,
	user_id TEXT,
	hit_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	accessed_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_type ON cache_entries(type);
CREATE INDEX IF NOT EXISTS idx_cache_tenant ON cache_entries(tenant_id);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_accessed ON cache_entries(accessed_at);
`
