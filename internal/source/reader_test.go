package source

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/timestamp"
)

const testSchema = `
CREATE TABLE handle (ROWID INTEGER PRIMARY KEY AUTOINCREMENT, id TEXT NOT NULL);
CREATE TABLE chat (ROWID INTEGER PRIMARY KEY AUTOINCREMENT, display_name TEXT, account_login TEXT);
CREATE TABLE message (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	guid TEXT,
	text TEXT,
	date INTEGER,
	service TEXT,
	is_from_me INTEGER DEFAULT 0,
	is_audio_message INTEGER DEFAULT 0,
	cache_has_attachments INTEGER DEFAULT 0,
	handle_id INTEGER DEFAULT 0
);
CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER, PRIMARY KEY (chat_id, message_id));
`

type testStore struct {
	path string
	db   *sql.DB
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return &testStore{path: path, db: db}
}

func (s *testStore) exec(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	res, err := s.db.Exec(query, args...)
	if err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
	id, _ := res.LastInsertId()
	return id
}

func (s *testStore) handle(t *testing.T, id string) int64 {
	return s.exec(t, `INSERT INTO handle (id) VALUES (?)`, id)
}

func (s *testStore) message(t *testing.T, handleID int64, text string, date int64, service string, fromMe bool, attach bool) int64 {
	t.Helper()
	return s.exec(t,
		`INSERT INTO message (guid, text, date, service, is_from_me, cache_has_attachments, handle_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"guid-"+text, text, date, service, boolInt(fromMe), boolInt(attach), handleID)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func openReader(t *testing.T, path string, opts Options) *Reader {
	t.Helper()
	r, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"), Options{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open missing file err = %v, want ErrNotFound", err)
	}
}

func TestFetch_OrderedInboundAfterCursor(t *testing.T) {
	s := newTestStore(t)
	alice := s.handle(t, "+15550001")
	bob := s.handle(t, "bob@example.com")

	raw := int64(727_000_000) * int64(time.Second)
	s.message(t, alice, "one", raw, "SMS", false, false)
	s.message(t, alice, "mine", raw, "SMS", true, false) // outbound, skipped
	s.message(t, bob, "two", 0, "iMessage", false, true)
	s.message(t, bob, "", raw, "iMessage", false, false) // empty text, skipped
	s.message(t, 0, "three", raw, "", false, false)      // no handle

	r := openReader(t, s.path, Options{})
	got, err := r.Fetch(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Fetch returned %d records, want 3: %+v", len(got), got)
	}

	for i := 1; i < len(got); i++ {
		if got[i].SequenceID <= got[i-1].SequenceID {
			t.Fatalf("records not ascending: %d after %d", got[i].SequenceID, got[i-1].SequenceID)
		}
	}

	first := got[0]
	if first.Text != "one" || first.Sender != "+15550001" || first.ServiceTag != "SMS" {
		t.Errorf("first record = %+v", first)
	}
	wantTS, _ := timestamp.Normalize(raw)
	if first.Timestamp == nil || !first.Timestamp.Equal(wantTS) {
		t.Errorf("first timestamp = %v, want %v", first.Timestamp, wantTS)
	}
	if first.ExternalID != "guid-one" {
		t.Errorf("ExternalID = %q", first.ExternalID)
	}

	second := got[1]
	if second.Timestamp != nil {
		t.Errorf("zero date should map to nil timestamp, got %v", second.Timestamp)
	}
	if !second.HasAttachment || second.ServiceTag != "iMessage" {
		t.Errorf("second record = %+v", second)
	}

	third := got[2]
	if third.Sender != "unknown" || third.ServiceTag != "SMS" {
		t.Errorf("defaults not applied: %+v", third)
	}
}

func TestOpen_PathWithURIMetacharacters(t *testing.T) {
	for _, dir := range []string{"a#b", "a%41b", "a?b", "a b"} {
		t.Run(dir, func(t *testing.T) {
			s := newTestStore(t)
			alice := s.handle(t, "+15550001")
			s.message(t, alice, "hello", 0, "SMS", false, false)
			if err := s.db.Close(); err != nil {
				t.Fatalf("close writer: %v", err)
			}

			// The writer never sees the odd path; only the reader has to
			// resolve it.
			target := filepath.Join(t.TempDir(), dir)
			if err := os.Mkdir(target, 0o755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}
			path := filepath.Join(target, "chat.db")
			if err := os.Rename(s.path, path); err != nil {
				t.Fatalf("move store: %v", err)
			}

			r := openReader(t, path, Options{})
			got, err := r.Fetch(context.Background(), 0, 10)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if len(got) != 1 || got[0].Text != "hello" {
				t.Fatalf("Fetch = %+v, want the one stored message", got)
			}
			if r.Path() != path {
				t.Errorf("Path = %q, want %q", r.Path(), path)
			}
		})
	}
}

func TestReadOnlyDSNEscapesPath(t *testing.T) {
	dsn, err := readOnlyDSN("/data/a#b?c%d/chat.db", 250*time.Millisecond)
	if err != nil {
		t.Fatalf("readOnlyDSN: %v", err)
	}
	want := "file:///data/a%23b%3Fc%25d/chat.db?_pragma=query_only%281%29&_pragma=busy_timeout%28250%29&mode=ro"
	if dsn != want {
		t.Errorf("dsn = %q\nwant  %q", dsn, want)
	}
}

func TestFetch_CursorAndLimit(t *testing.T) {
	s := newTestStore(t)
	h := s.handle(t, "x")
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, s.message(t, h, "m"+string(rune('a'+i)), 0, "SMS", false, false))
	}

	r := openReader(t, s.path, Options{})
	got, err := r.Fetch(context.Background(), ids[1], 2)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 || got[0].SequenceID != ids[2] || got[1].SequenceID != ids[3] {
		t.Fatalf("Fetch(cursor=%d, limit=2) = %+v", ids[1], got)
	}

	got, err = r.Fetch(context.Background(), ids[4], 10)
	if err != nil {
		t.Fatalf("Fetch at head: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Fetch at head returned %d records, want 0", len(got))
	}
}

func TestFetch_GroupLabelAndAccountFilter(t *testing.T) {
	s := newTestStore(t)
	h := s.handle(t, "+15550001")
	family := s.exec(t, `INSERT INTO chat (display_name, account_login) VALUES ('Family', 'E:+15559999')`)
	other := s.exec(t, `INSERT INTO chat (display_name, account_login) VALUES ('', 'E:+15558888')`)

	m1 := s.message(t, h, "to family", 0, "iMessage", false, false)
	m2 := s.message(t, h, "to other", 0, "iMessage", false, false)
	s.exec(t, `INSERT INTO chat_message_join (chat_id, message_id) VALUES (?, ?)`, family, m1)
	s.exec(t, `INSERT INTO chat_message_join (chat_id, message_id) VALUES (?, ?)`, other, m2)

	all := openReader(t, s.path, Options{})
	got, err := all.Fetch(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Fetch returned %d, want 2", len(got))
	}
	if got[0].GroupLabel != "Family" || got[1].GroupLabel != "" {
		t.Errorf("group labels = %q, %q", got[0].GroupLabel, got[1].GroupLabel)
	}

	filtered := openReader(t, s.path, Options{AccountFilter: "+15559999"})
	got, err = filtered.Fetch(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("Fetch filtered: %v", err)
	}
	if len(got) != 1 || got[0].SequenceID != m1 {
		t.Errorf("account filter returned %+v, want only %d", got, m1)
	}
}

func TestMaxSequence(t *testing.T) {
	s := newTestStore(t)
	r := openReader(t, s.path, Options{})

	max, err := r.MaxSequence(context.Background())
	if err != nil {
		t.Fatalf("MaxSequence empty: %v", err)
	}
	if max != 0 {
		t.Errorf("MaxSequence empty = %d, want 0", max)
	}

	h := s.handle(t, "x")
	s.message(t, h, "a", 0, "SMS", false, false)
	last := s.message(t, h, "b", 0, "SMS", true, false)

	max, err = r.MaxSequence(context.Background())
	if err != nil {
		t.Fatalf("MaxSequence: %v", err)
	}
	if max != last {
		t.Errorf("MaxSequence = %d, want %d", max, last)
	}
}

func TestFetch_LockContentionIsTransient(t *testing.T) {
	s := newTestStore(t)
	h := s.handle(t, "x")
	s.message(t, h, "a", 0, "SMS", false, false)

	r := openReader(t, s.path, Options{})

	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		t.Fatalf("writer conn: %v", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		t.Fatalf("BEGIN EXCLUSIVE: %v", err)
	}

	_, err = r.Fetch(ctx, 0, 10)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("Fetch under exclusive lock err = %v, want ErrTransient", err)
	}

	if _, err := conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		t.Fatalf("ROLLBACK: %v", err)
	}

	got, err := r.Fetch(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Fetch after unlock: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Fetch after unlock returned %d, want 1", len(got))
	}
}

func TestIsLockContention(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked"), true},
		{errors.New("no such table: message"), false},
	}
	for _, tt := range tests {
		if got := IsLockContention(tt.err); got != tt.want {
			t.Errorf("IsLockContention(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
