package serial

import (
	"strings"
	"time"
)

// Record is a single receive captured from the serial stream: the raw bytes
// read in one pass and the time they arrived.
type Record struct {
	Time time.Time
	Data []byte
}

// StrRecord is a Record whose data has been decoded and processed into a string.
type StrRecord struct {
	Time time.Time
	Data string
}

// convBytesToStr decodes raw receive bytes into a string, optionally cutting
// at a terminator and trimming surrounding whitespace.
//
// If readUntil is non-empty and occurs in the decoded string, the result is
// everything before its first occurrence, terminator excluded. Otherwise the
// whole string is returned. If strip is true, leading and trailing whitespace
// and newlines are removed; interior whitespace is never touched.
func convBytesToStr(data []byte, readUntil string, strip bool) string {
	s := string(data)

	if readUntil != "" {
		if idx := strings.Index(s, readUntil); idx >= 0 {
			s = s[:idx]
		}
	}

	if strip {
		s = strings.TrimSpace(s)
	}

	return s
}

// toStr converts a Record to a StrRecord using convBytesToStr.
func (r Record) toStr(readUntil string, strip bool) StrRecord {
	return StrRecord{
		Time: r.Time,
		Data: convBytesToStr(r.Data, readUntil, strip),
	}
}
