// Package guid generates and codes the 16-byte identifiers used as entity
// and index-row keys throughout the datastore.
package guid

import (
	"crypto/rand"
	"encoding/hex"

	"schemaless/internal/storeerr"
)

// Size is the fixed length, in bytes, of a raw identifier.
const Size = 16

// HexSize is the fixed length, in characters, of a hex-encoded identifier.
const HexSize = Size * 2

// New returns a fresh 16-byte identifier from a cryptographic random source.
func New() ([]byte, error) {
	raw := make([]byte, Size)
	if _, err := rand.Read(raw); err != nil {
		return nil, storeerr.New(storeerr.Backend, "guid.New", err)
	}
	return raw, nil
}

// ToHex renders a raw 16-byte identifier as 32 lowercase hex characters.
func ToHex(raw []byte) (string, error) {
	if len(raw) != Size {
		return "", storeerr.New(storeerr.InvalidId, "guid.ToHex", nil)
	}
	return hex.EncodeToString(raw), nil
}

// ToRaw decodes a 32-character hex identifier back to 16 raw bytes.
func ToRaw(s string) ([]byte, error) {
	if len(s) != HexSize {
		return nil, storeerr.New(storeerr.InvalidId, "guid.ToRaw", nil)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, storeerr.New(storeerr.InvalidId, "guid.ToRaw", err)
	}
	return raw, nil
}

// Normalize accepts either a 16-byte raw identifier or a 32-character hex
// identifier and returns the raw form, rejecting anything else with
// InvalidId.
func Normalize(id []byte) ([]byte, error) {
	switch len(id) {
	case Size:
		return id, nil
	case HexSize:
		return ToRaw(string(id))
	default:
		return nil, storeerr.New(storeerr.InvalidId, "guid.Normalize", nil)
	}
}

// NormalizeString accepts either a 32-character hex identifier or a raw
// 16-byte identifier reinterpreted as a string, and returns the raw form.
func NormalizeString(id string) ([]byte, error) {
	switch len(id) {
	case Size:
		return []byte(id), nil
	case HexSize:
		return ToRaw(id)
	default:
		return nil, storeerr.New(storeerr.InvalidId, "guid.NormalizeString", nil)
	}
}
