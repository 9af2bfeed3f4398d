package b2

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// AccountCache remembers, per account, the bucket ids it has already
// resolved by name — grounded on
// _examples/original_source/backblaze_b2.py's use of
// b2.account_info.sqlite_account_info.SqliteAccountInfo, adapted to
// what github.com/FiloSottile/b2 actually exposes: that client has no
// hook to inject a cached auth token or to look a bucket up by id, so
// unlike the original's account-info cache this one cannot skip
// re-authentication or the Client.BucketByName round trip either. It
// keeps a local record of accountID/bucket -> bucketID, which Open
// writes after each successful resolution; Open does not read it back.
type AccountCache struct {
	db *sql.DB
}

const accountCacheSchema = `
CREATE TABLE IF NOT EXISTS resolved_buckets (
	accountId   TEXT NOT NULL,
	bucketName  TEXT NOT NULL,
	bucketId    TEXT NOT NULL,
	lastUsed    INTEGER NOT NULL,
	PRIMARY KEY (accountId, bucketName)
);`

// OpenAccountCache opens (creating if necessary) the account-info
// cache database at path.
func OpenAccountCache(path string) (*AccountCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("remote/b2: open account cache %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(accountCacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("remote/b2: init account cache schema: %w", err)
	}
	return &AccountCache{db: db}, nil
}

// Lookup returns the last-resolved bucket id for accountID/bucketName,
// if one has been recorded.
func (c *AccountCache) Lookup(accountID, bucketName string) (bucketID string, ok bool, err error) {
	row := c.db.QueryRow(`SELECT bucketId FROM resolved_buckets WHERE accountId = ? AND bucketName = ?`, accountID, bucketName)
	if err := row.Scan(&bucketID); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("remote/b2: account cache lookup: %w", err)
	}
	return bucketID, true, nil
}

// Record stores the bucket id resolved for accountID/bucketName.
func (c *AccountCache) Record(accountID, bucketName, bucketID string) error {
	_, err := c.db.Exec(`
		INSERT INTO resolved_buckets (accountId, bucketName, bucketId, lastUsed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(accountId, bucketName) DO UPDATE SET
			bucketId=excluded.bucketId, lastUsed=excluded.lastUsed`,
		accountID, bucketName, bucketID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("remote/b2: account cache record: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *AccountCache) Close() error {
	return c.db.Close()
}
