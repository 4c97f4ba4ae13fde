// Package source reads new inbound messages from a Messages-style SQLite
// store without ever taking a write lock on it.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/model"
	"github.com/tinytelemetry/msgrelay/internal/timestamp"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrTransient marks a recoverable condition (another process holds the
	// store lock). The caller should skip the cycle and try again later.
	ErrTransient = errors.New("source: store temporarily locked")
	// ErrNotFound is returned by Open when the store file does not exist.
	ErrNotFound = errors.New("source: store not found")
)

const (
	defaultSender  = "unknown"
	defaultService = "SMS"
)

// Options tunes how the store is queried.
type Options struct {
	// AccountFilter restricts messages to chats whose account login
	// contains this value. Empty means no restriction.
	AccountFilter string
	// QueryTimeout bounds every query. Zero uses model.DefaultQueryTimeout.
	QueryTimeout time.Duration
	// BusyTimeout is how long SQLite waits on a lock before giving up.
	// Keep it short: contention is reported, not waited out.
	BusyTimeout time.Duration
}

// Reader is a read-only view over the message store.
type Reader struct {
	db   *sql.DB
	path string
	opts Options
}

// Open opens path in read-only mode. The file must already exist.
func Open(path string, opts Options) (*Reader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: path is empty", ErrNotFound)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("source: stat %s: %w", path, err)
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = model.DefaultQueryTimeout
	}

	dsn, err := readOnlyDSN(path, opts.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	return &Reader{db: db, path: path, opts: opts}, nil
}

// readOnlyDSN builds a file: URI for path. The path is escaped so that
// characters like '#', '?' and '%' reach SQLite as part of the file name.
func readOnlyDSN(path string, busy time.Duration) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", "query_only(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	u := &url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: q.Encode()}
	return u.String(), nil
}

// Path returns the store location.
func (r *Reader) Path() string {
	return r.path
}

// Close releases the database handle.
func (r *Reader) Close() error {
	return r.db.Close()
}

const fetchQuery = `
SELECT
	m.ROWID,
	COALESCE(m.guid, ''),
	m.text,
	COALESCE(m.date, 0),
	COALESCE(m.service, ''),
	COALESCE(m.cache_has_attachments, 0),
	COALESCE(h.id, ''),
	COALESCE((
		SELECT c.display_name
		FROM chat_message_join cmj
		JOIN chat c ON c.ROWID = cmj.chat_id
		WHERE cmj.message_id = m.ROWID
		LIMIT 1
	), '')
FROM message m
LEFT JOIN handle h ON h.ROWID = m.handle_id
WHERE m.is_from_me = 0
  AND m.ROWID > ?
  AND m.text IS NOT NULL
  AND m.text != ''
%s
ORDER BY m.ROWID ASC
LIMIT ?`

const accountClause = `  AND EXISTS (
	SELECT 1
	FROM chat_message_join cmj
	JOIN chat c ON c.ROWID = cmj.chat_id
	WHERE cmj.message_id = m.ROWID
	  AND c.account_login LIKE ?
)`

// Fetch returns up to limit inbound messages with SequenceID > cursor in
// ascending SequenceID order. Lock contention is reported as ErrTransient.
func (r *Reader) Fetch(ctx context.Context, cursor int64, limit int) ([]model.MessageRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.QueryTimeout)
	defer cancel()

	args := []any{cursor}
	extra := ""
	if r.opts.AccountFilter != "" {
		extra = accountClause
		args = append(args, "%"+r.opts.AccountFilter+"%")
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(fetchQuery, extra), args...)
	if err != nil {
		return nil, classify("fetch", err)
	}
	defer rows.Close()

	records := make([]model.MessageRecord, 0, limit)
	for rows.Next() {
		var (
			rec        model.MessageRecord
			rawDate    int64
			attachment int64
		)
		if err := rows.Scan(
			&rec.SequenceID,
			&rec.ExternalID,
			&rec.Text,
			&rawDate,
			&rec.ServiceTag,
			&attachment,
			&rec.Sender,
			&rec.GroupLabel,
		); err != nil {
			return nil, classify("scan", err)
		}
		rec.Timestamp = timestamp.NormalizePtr(rawDate)
		rec.HasAttachment = attachment != 0
		if rec.ServiceTag == "" {
			rec.ServiceTag = defaultService
		}
		if rec.Sender == "" {
			rec.Sender = defaultSender
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("fetch rows", err)
	}
	return records, nil
}

// MaxSequence returns the highest SequenceID currently in the store, or 0.
func (r *Reader) MaxSequence(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.QueryTimeout)
	defer cancel()

	var max int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(ROWID), 0) FROM message`).Scan(&max)
	if err != nil {
		return 0, classify("max sequence", err)
	}
	return max, nil
}

func classify(op string, err error) error {
	if IsLockContention(err) {
		return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
	}
	return fmt.Errorf("source: %s: %w", op, err)
}

// IsLockContention reports whether err means another connection holds a
// conflicting lock on the store.
func IsLockContention(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
