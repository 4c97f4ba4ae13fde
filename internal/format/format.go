// Package format renders message records into delivery text.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/model"
)

const (
	timeLayout    = "2006-01-02 15:04"
	digestTitle   = "Message Digest"
	serviceIMsg   = "iMessage"
	serviceSMS    = "SMS"
	unknownTime   = "unknown"
	attachmentTag = " +attachment"
)

// Single renders one record as a header line followed by its body:
//
//	[SMS] +15550001 [Family] (2024-01-15 10:30 +attachment):
//	see you soon
func Single(rec model.MessageRecord, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	ts := unknownTime
	if rec.Timestamp != nil {
		ts = rec.Timestamp.In(loc).Format(timeLayout)
	}
	group := ""
	if rec.GroupLabel != "" {
		group = " [" + rec.GroupLabel + "]"
	}
	attachment := ""
	if rec.HasAttachment {
		attachment = attachmentTag
	}
	return fmt.Sprintf("[%s] %s%s (%s%s):\n%s", serviceLabel(rec.ServiceTag), rec.Sender, group, ts, attachment, rec.Text)
}

// Digest renders all records behind a header stating the count.
func Digest(records []model.MessageRecord, loc *time.Location) string {
	header := fmt.Sprintf("%s - %d new message(s)", digestTitle, len(records))
	parts := make([]string, len(records))
	for i, rec := range records {
		parts[i] = Single(rec, loc)
	}
	return header + "\n" + strings.Repeat("=", len(header)) + "\n\n" + strings.Join(parts, "\n\n")
}

// Payloads turns admitted records into delivery units: one per record, or a
// single digest when digest is true. It returns nil for no records.
func Payloads(records []model.MessageRecord, loc *time.Location, digest bool) []model.Payload {
	if len(records) == 0 {
		return nil
	}
	if digest {
		ids := make([]int64, len(records))
		for i, rec := range records {
			ids[i] = rec.SequenceID
		}
		return []model.Payload{{
			Subject:     fmt.Sprintf("%s: %d new", digestTitle, len(records)),
			Text:        Digest(records, loc),
			SequenceIDs: ids,
		}}
	}

	out := make([]model.Payload, len(records))
	for i, rec := range records {
		out[i] = model.Payload{
			Subject:     "Message from " + rec.Sender,
			Text:        Single(rec, loc),
			SequenceIDs: []int64{rec.SequenceID},
		}
	}
	return out
}

func serviceLabel(tag string) string {
	switch {
	case strings.EqualFold(tag, serviceIMsg):
		return serviceIMsg
	case tag == "":
		return serviceSMS
	default:
		return tag
	}
}
