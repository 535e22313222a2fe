package store

import (
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// canonPath NFC-normalizes a path used in an identity key. Toolchains on
// different platforms can emit the same path with different Unicode
// normalization; without this, one source location could split across two
// canonical rows.
func canonPath(p string) string {
	return norm.NFC.String(p)
}

// encodeU32s converts an integer vector to compact JSON TEXT for storage.
// JSON keeps the column comparable by value so UNIQUE indexes over vector
// fields work, mirroring the pipeline's historic array-as-text mapping.
func encodeU32s(vals []uint32) (string, error) {
	if vals == nil {
		vals = []uint32{}
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return "", fmt.Errorf("encode u32 vector: %w", err)
	}
	return string(data), nil
}

// decodeU32s parses a stored JSON TEXT vector.
func decodeU32s(data string) ([]uint32, error) {
	var vals []uint32
	if err := json.Unmarshal([]byte(data), &vals); err != nil {
		return nil, fmt.Errorf("decode u32 vector: %w", err)
	}
	if vals == nil {
		vals = []uint32{}
	}
	return vals, nil
}

// encodeViableBytes converts a per-byte LabelSet ID sequence to JSON TEXT.
// Untracked bytes are nil entries and serialize as JSON null; they are never
// dropped, preserving byte-position alignment.
func encodeViableBytes(ids []*int64) (string, error) {
	if ids == nil {
		ids = []*int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode viable bytes: %w", err)
	}
	return string(data), nil
}

// decodeViableBytes parses a stored viable-byte sequence.
func decodeViableBytes(data string) ([]*int64, error) {
	var ids []*int64
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("decode viable bytes: %w", err)
	}
	if ids == nil {
		ids = []*int64{}
	}
	return ids, nil
}
