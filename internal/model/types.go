package model

import "time"

// MessageRecord is one inbound message read from the source store.
// SequenceID is the only ordering and dedup key.
type MessageRecord struct {
	SequenceID    int64
	ExternalID    string     // vendor guid, informational only
	Text          string
	Timestamp     *time.Time // nil = no timestamp recorded
	ServiceTag    string     // "SMS", "iMessage", ...
	Sender        string
	GroupLabel    string // empty for one-to-one chats
	HasAttachment bool
}

// CursorState is the only persisted relay state.
type CursorState struct {
	LastSequenceID   int64      `json:"lastSequenceId"`
	LastRunTimestamp time.Time  `json:"lastRunTimestamp"`
	SeededAt         *time.Time `json:"seededAt,omitempty"`
}

// Payload is one unit of delivery: a single message or a whole digest.
type Payload struct {
	Subject     string
	Text        string
	SequenceIDs []int64
}

// MaxSequenceID returns the highest SequenceID in records, or 0 when empty.
func MaxSequenceID(records []MessageRecord) int64 {
	var max int64
	for i := range records {
		if records[i].SequenceID > max {
			max = records[i].SequenceID
		}
	}
	return max
}
