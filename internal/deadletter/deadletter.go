// Package deadletter keeps payloads a sink refused so they can be inspected
// and replayed later. Entries are JSON lines; replay progress lives in a
// ".commit" sidecar holding the highest resolved entry number.
package deadletter

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/model"
)

const (
	fileMode = 0600
	dirMode  = 0755
)

// ErrStopReplay ends a Replay early without reporting an error.
var ErrStopReplay = errors.New("deadletter: stop replay")

// Entry is one failed delivery.
type Entry struct {
	Seq         uint64    `json:"seq"`
	Sink        string    `json:"sink"`
	Subject     string    `json:"subject"`
	Text        string    `json:"text"`
	SequenceIDs []int64   `json:"sequenceIds"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failedAt"`
}

// Payload rebuilds the payload that failed.
func (e Entry) Payload() model.Payload {
	return model.Payload{
		Subject:     e.Subject,
		Text:        e.Text,
		SequenceIDs: append([]int64(nil), e.SequenceIDs...),
	}
}

// Log is an append-only file of failed deliveries.
type Log struct {
	mu         sync.Mutex
	path       string
	commitPath string
	file       *os.File
	nextSeq    uint64
	committed  uint64
}

// Open creates or opens the log at path. Resolved entries are dropped and a
// torn trailing line is discarded.
func Open(path string) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("deadletter: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("deadletter: mkdir: %w", err)
	}

	commitPath := path + ".commit"
	committed, err := readCommitted(commitPath)
	if err != nil {
		return nil, err
	}
	maxSeq, err := compact(path, committed)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fileMode)
	if err != nil {
		return nil, fmt.Errorf("deadletter: open: %w", err)
	}
	return &Log{
		path:       path,
		commitPath: commitPath,
		file:       f,
		nextSeq:    max(maxSeq, committed) + 1,
		committed:  committed,
	}, nil
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Append records a failed payload and returns its entry number.
func (l *Log) Append(sink string, p model.Payload, reason error, at time.Time) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return 0, errors.New("deadletter: log is closed")
	}

	e := Entry{
		Seq:         l.nextSeq,
		Sink:        sink,
		Subject:     p.Subject,
		Text:        p.Text,
		SequenceIDs: append([]int64{}, p.SequenceIDs...),
		FailedAt:    at.UTC(),
	}
	if reason != nil {
		e.Reason = reason.Error()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("deadletter: marshal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return 0, fmt.Errorf("deadletter: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return 0, fmt.Errorf("deadletter: sync entry: %w", err)
	}
	l.nextSeq++
	return e.Seq, nil
}

// Commit marks every entry up to seq as resolved.
func (l *Log) Commit(seq uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if seq <= l.committed {
		return nil
	}
	if err := writeCommitted(l.commitPath, seq); err != nil {
		return err
	}
	l.committed = seq
	return nil
}

// Committed returns the highest resolved entry number.
func (l *Log) Committed() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed
}

// Pending returns unresolved entries, oldest first.
func (l *Log) Pending() ([]Entry, error) {
	var out []Entry
	err := l.Replay(func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// Replay calls fn for each unresolved entry in order. Returning ErrStopReplay
// from fn ends the walk cleanly; any other error is returned as is.
func (l *Log) Replay(fn func(Entry) error) error {
	if fn == nil {
		return errors.New("deadletter: replay callback is nil")
	}

	l.mu.Lock()
	path, committed := l.path, l.committed
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("deadletter: open for replay: %w", err)
	}
	defer f.Close()

	err = scan(f, func(e Entry, _ []byte) error {
		if e.Seq <= committed {
			return nil
		}
		return fn(e)
	})
	if errors.Is(err, ErrStopReplay) {
		return nil
	}
	return err
}

// Close closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// scan walks complete, well-formed lines. It stops silently at a torn or
// malformed line so replay stays deterministic.
func scan(r io.Reader, fn func(e Entry, line []byte) error) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("deadletter: read: %w", err)
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			return nil
		}

		var e Entry
		if json.Unmarshal(line, &e) != nil {
			return nil
		}
		if ferr := fn(e, line); ferr != nil {
			return ferr
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func readCommitted(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("deadletter: read commit file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("deadletter: parse commit seq: %w", err)
	}
	return seq, nil
}

func writeCommitted(path string, seq uint64) error {
	return writeAtomic(path, []byte(strconv.FormatUint(seq, 10)+"\n"))
}

// writeAtomic replaces path with data via a synced temp file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("deadletter: open %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("deadletter: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("deadletter: sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("deadletter: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("deadletter: rename %s: %w", path, err)
	}
	return nil
}

// compact rewrites path keeping only entries above committed and returns the
// highest entry number seen.
func compact(path string, committed uint64) (uint64, error) {
	src, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, fileMode)
	if err != nil {
		return 0, fmt.Errorf("deadletter: open for compact: %w", err)
	}
	defer src.Close()

	var (
		maxSeq uint64
		kept   []byte
	)
	err = scan(src, func(e Entry, line []byte) error {
		maxSeq = max(maxSeq, e.Seq)
		if e.Seq > committed {
			kept = append(kept, line...)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := writeAtomic(path, kept); err != nil {
		return 0, err
	}
	return maxSeq, nil
}
