package repos

import (
	"context"
	"log"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// OpenDB opens the sqlite store, applies the schema and seeds baseline rows.
// A single connection is used: sqlite serializes writers anyway, and an
// in-memory database only exists on the connection that created it.
func OpenDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, err
	}

	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	if err := seedCategories(db); err != nil {
		return nil, err
	}
	// Ensure users exist (idempotent; safe to run every start)
	if err := seedUsers(db); err != nil {
		return nil, err
	}
	return db, nil
}

// InTx runs fn inside a transaction, committing only if fn returns nil.
// While fn runs the single pooled connection belongs to tx, so fn must not
// touch the *sqlx.DB directly.
func InTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;
PRAGMA busy_timeout = 5000;

-- Categories
CREATE TABLE IF NOT EXISTS categories(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_name_nocase ON categories(LOWER(name));

-- Users, admin principals & sessions
CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));

CREATE TABLE IF NOT EXISTS admins(
  user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
  granted_by TEXT NOT NULL,
  granted_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,               -- same value as the 'sid' cookie
  user_id TEXT NULL REFERENCES users(id) ON DELETE SET NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  last_seen  TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

-- Listings (timestamps are unix nanoseconds)
CREATE TABLE IF NOT EXISTS listings(
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE RESTRICT,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  price_usd NUMERIC NOT NULL CHECK (price_usd > 0),
  images_json TEXT NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('draft','active','expired','sold','archived','hidden')),
  is_sticky INTEGER NOT NULL DEFAULT 0,
  is_highlighted INTEGER NOT NULL DEFAULT 0,
  auto_bump INTEGER NOT NULL DEFAULT 0,
  view_count INTEGER NOT NULL DEFAULT 0,
  bump_count INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 1,
  created_at INTEGER NOT NULL,
  published_at INTEGER,
  bumped_at INTEGER,
  archived_at INTEGER,
  expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_listings_owner_status ON listings(owner_id, status);
CREATE INDEX IF NOT EXISTS idx_listings_status_expires ON listings(status, expires_at);
CREATE INDEX IF NOT EXISTS idx_listings_title ON listings(LOWER(title));

-- Flags
CREATE TABLE IF NOT EXISTS flags(
  id TEXT PRIMARY KEY,
  listing_id TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
  reporter_id TEXT NOT NULL,
  reason TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','upheld','dismissed')),
  notes TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  reviewed_by TEXT,
  reviewed_at INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_flags_listing_reporter ON flags(listing_id, reporter_id);
CREATE INDEX IF NOT EXISTS idx_flags_status_created ON flags(status, created_at);

-- Moderation ledger (append-only)
CREATE TABLE IF NOT EXISTS moderation_actions(
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  target_user_id TEXT NOT NULL,
  target_listing_id TEXT,
  admin_id TEXT NOT NULL,
  action_type TEXT NOT NULL CHECK (action_type IN ('warning','ban','unban','content_removal')),
  reason TEXT NOT NULL,
  expires_at INTEGER,
  ref TEXT UNIQUE,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_user_type_created ON moderation_actions(target_user_id, action_type, created_at DESC);

CREATE TRIGGER IF NOT EXISTS trg_actions_no_update BEFORE UPDATE ON moderation_actions
BEGIN SELECT RAISE(ABORT, 'moderation_actions is append-only'); END;
CREATE TRIGGER IF NOT EXISTS trg_actions_no_delete BEFORE DELETE ON moderation_actions
BEGIN SELECT RAISE(ABORT, 'moderation_actions is append-only'); END;

-- Current ban pointer per user, maintained in the same transaction as the ledger row
CREATE TABLE IF NOT EXISTS ban_index(
  user_id TEXT PRIMARY KEY,
  action_id TEXT,
  expires_at INTEGER,
  updated_at INTEGER NOT NULL
);

-- Appeals
CREATE TABLE IF NOT EXISTS appeals(
  id TEXT PRIMARY KEY,
  moderation_action_id TEXT NOT NULL REFERENCES moderation_actions(id),
  user_id TEXT NOT NULL,
  text TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open','approved','denied')),
  created_at INTEGER NOT NULL,
  resolved_at INTEGER,
  resolved_by TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_appeals_one_open ON appeals(moderation_action_id) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_appeals_status_created ON appeals(status, created_at);

-- Outbox of domain events consumed by the cascade worker
CREATE TABLE IF NOT EXISTS outbox(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  processed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(processed_at, id);

CREATE TABLE IF NOT EXISTS cascade_checkpoints(
  event_id INTEGER PRIMARY KEY,
  cursor TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

func seedCategories(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM categories`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	log.Println("[seed] inserting default categories")

	tx := db.MustBegin()
	tx.MustExec(`INSERT INTO categories(id,name) VALUES
	  ('electronics','Electronics'),
	  ('vehicles','Vehicles'),
	  ('home','Home & Garden'),
	  ('fashion','Fashion'),
	  ('services','Services')`)
	return tx.Commit()
}

// seedUsers ensures demo users and one admin principal exist (idempotent).
func seedUsers(db *sqlx.DB) error {
	type u struct {
		ID, Email, Name, Hash string
		Admin                 bool
	}
	mk := func(id, email, name, raw string, admin bool) u {
		h, _ := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
		return u{ID: id, Email: email, Name: name, Hash: string(h), Admin: admin}
	}

	users := []u{
		mk("u-alice", "alice@tradepost.test", "Alice", "Passw0rd!", false),
		mk("u-bob", "bob@tradepost.test", "Bob", "Passw0rd!", false),
		mk("u-carol", "carol@tradepost.test", "Carol", "Passw0rd!", false),
		mk("u-admin", "admin@tradepost.test", "Admin", "Passw0rd!", true),
	}

	tx := db.MustBegin()
	defer func() { _ = tx.Rollback() }()

	for _, x := range users {
		if _, err := tx.Exec(`
			INSERT INTO users(id,email,name,password_hash)
			VALUES(?,?,?,?)
			ON CONFLICT(email) DO NOTHING
		`, x.ID, x.Email, x.Name, x.Hash); err != nil {
			return err
		}
		if x.Admin {
			if _, err := tx.Exec(`
				INSERT INTO admins(user_id, granted_by, granted_at)
				VALUES(?, 'seed', 0)
				ON CONFLICT(user_id) DO NOTHING
			`, x.ID); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}
