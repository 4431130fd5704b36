// Package cache stores broker responses with a SHA-256 checksum so a
// tampered or corrupted entry is detected on read.
package cache

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
)

// Entry is the stored form of a cached payload.
type Entry struct {
	Data     string `json:"data"`
	Checksum string `json:"checksum"`
}

// NewEntry computes the checksum for data.
func NewEntry(data []byte) Entry {
	return Entry{Data: string(data), Checksum: Checksum(data)}
}

// Checksum is the hex-encoded SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Valid recomputes the checksum and compares it in constant time.
func (e Entry) Valid() bool {
	want := Checksum([]byte(e.Data))
	return subtle.ConstantTimeCompare([]byte(want), []byte(e.Checksum)) == 1
}

func (e Entry) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses raw and returns the data only when the checksum holds.
// Unparseable input is treated the same as a mismatch.
func Decode(raw []byte) ([]byte, bool) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	if !e.Valid() {
		return nil, false
	}
	return []byte(e.Data), true
}
