// Package idgen provides pluggable ID generation.
//
// Constructors that need identifiers accept a Generator, making the ID
// strategy a startup-time decision rather than a compile-time one. Two
// strategies are provided: UUIDv7 for connection-scoped identifiers and
// ObjectID for persistent rows that double as pagination cursors.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, globally unique.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// objectIDCounter is the per-process increment of ObjectID, randomly seeded.
var objectIDCounter uint32

// objectIDProcess is the per-process random middle section of ObjectID.
var objectIDProcess [5]byte

func init() {
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic("idgen: crypto/rand failed: " + err.Error())
	}
	objectIDCounter = binary.BigEndian.Uint32(seed[:])
	if _, err := rand.Read(objectIDProcess[:]); err != nil {
		panic("idgen: crypto/rand failed: " + err.Error())
	}
}

// ObjectID returns a Generator that produces 24-character hex identifiers in
// the classic BSON ObjectID layout: a 4-byte big-endian unix timestamp, 5
// random process bytes, and a 3-byte incrementing counter. Within a process
// lexicographic order tracks creation order, so the ids double as pagination
// cursors.
func ObjectID() Generator {
	return func() string {
		var raw [12]byte
		binary.BigEndian.PutUint32(raw[:4], uint32(time.Now().Unix()))
		copy(raw[4:9], objectIDProcess[:])
		n := atomic.AddUint32(&objectIDCounter, 1)
		raw[9] = byte(n >> 16)
		raw[10] = byte(n >> 8)
		raw[11] = byte(n)
		return hex.EncodeToString(raw[:])
	}
}

// ParseObjectID validates s as a 24-character hex ObjectID and returns it
// lowercased, or an error when the format does not match.
func ParseObjectID(s string) (string, error) {
	if len(s) != 24 {
		return "", fmt.Errorf("invalid ObjectID %q: want 24 hex characters, got %d", s, len(s))
	}
	s = strings.ToLower(s)
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid ObjectID %q: %w", s, err)
	}
	return s, nil
}

// Default is the project default: UUIDv7 (RFC 9562).
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string and returns it or an error.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	return u.String(), nil
}
