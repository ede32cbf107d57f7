package quota

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store durably persists every user's quota record so a restarted node
// does not forget how much a peer has contributed. Grounded on
// keysaver-server/storage.go's Storage type: same pure-Go sqlite
// driver, same "one small table keyed by an ID, upsert + full scan on
// load" shape, repurposed here for per-user quota rows instead of
// per-file encryption keys.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if absent) a sqlite database at path and
// ensures the user_quotas table exists.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open quota store: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS user_quotas (
		user_id           TEXT PRIMARY KEY,
		bytes_used        INTEGER NOT NULL,
		bytes_contributed INTEGER NOT NULL,
		files_count       INTEGER NOT NULL,
		shards_hosted     INTEGER NOT NULL,
		joined_at         INTEGER NOT NULL,
		last_active       INTEGER NOT NULL,
		in_grace_period   INTEGER NOT NULL
	)`)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes one user's current quota record.
func (s *Store) Upsert(q *UserQuota) error {
	_, err := s.db.Exec(`
	INSERT INTO user_quotas
		(user_id, bytes_used, bytes_contributed, files_count, shards_hosted, joined_at, last_active, in_grace_period)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		bytes_used = excluded.bytes_used,
		bytes_contributed = excluded.bytes_contributed,
		files_count = excluded.files_count,
		shards_hosted = excluded.shards_hosted,
		last_active = excluded.last_active,
		in_grace_period = excluded.in_grace_period
	`,
		q.UserID, q.BytesUsed, q.BytesContributed, q.FilesCount, q.ShardsHosted,
		q.JoinedAt.Unix(), q.LastActive.Unix(), boolToInt(q.InGracePeriod))
	return err
}

// LoadAll reads every persisted quota record, keyed by user ID.
func (s *Store) LoadAll() (map[string]*UserQuota, error) {
	rows, err := s.db.Query(`
	SELECT user_id, bytes_used, bytes_contributed, files_count, shards_hosted, joined_at, last_active, in_grace_period
	FROM user_quotas`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*UserQuota)
	for rows.Next() {
		var q UserQuota
		var joinedUnix, lastActiveUnix int64
		var graceInt int
		if err := rows.Scan(&q.UserID, &q.BytesUsed, &q.BytesContributed, &q.FilesCount,
			&q.ShardsHosted, &joinedUnix, &lastActiveUnix, &graceInt); err != nil {
			return nil, err
		}
		q.JoinedAt = time.Unix(joinedUnix, 0)
		q.LastActive = time.Unix(lastActiveUnix, 0)
		q.InGracePeriod = graceInt != 0
		out[q.UserID] = &q
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
