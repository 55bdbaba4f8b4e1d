package utils

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

var objectIDCounter uint32

// GenerateID generates a 12-byte ObjectID-like string (24 hex characters).
// The leading 4 bytes encode the creation time, so ids sort roughly by age
// and the timestamp can be recovered with GetTimeFromID.
func GenerateID() string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(time.Now().Unix()))
	_, _ = rand.Read(b[4:9])
	c := atomic.AddUint32(&objectIDCounter, 1) % 0xFFFFFF
	b[9] = byte(c >> 16)
	b[10] = byte(c >> 8)
	b[11] = byte(c)
	return hex.EncodeToString(b[:])
}

// GetTimeFromID extracts the creation time from a string that starts with 8-char hex timestamp.
func GetTimeFromID(id string) (time.Time, error) {
	if len(id) < 8 {
		return time.Time{}, fmt.Errorf("id too short: %d", len(id))
	}
	hexPart := id[:8]
	b, err := hex.DecodeString(hexPart)
	if err != nil {
		return time.Time{}, err
	}
	sec := binary.BigEndian.Uint32(b)
	return time.Unix(int64(sec), 0), nil
}
