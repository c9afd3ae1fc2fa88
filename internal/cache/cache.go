package cache

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// TTL is how long an entry stays visible after its last write.
const TTL = 24 * time.Hour

// Store defines a content-addressed image store with read-time expiry
type Store interface {
	Exists(key string) bool
	Get(key string) ([]byte, error)
	Put(key string, data []byte) error
}

// DeriveKey digests content together with the canonical form of options.
// Options that marshal to the same JSON object modulo key order yield the same key.
func DeriveKey(content string, options any) (string, error) {
	canonical, err := Canonicalize(options)
	if err != nil {
		return "", err
	}

	hash := md5.New()
	_, _ = io.WriteString(hash, content)
	_, _ = hash.Write(canonical)
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Canonicalize renders v as JSON with every object's keys sorted.
// Structs are first flattened to generic maps so that declaration order
// and map insertion order cannot leak into the result.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize options: %w", err)
	}
	return out, nil
}

// ValidKey reports whether key has the shape DeriveKey produces.
func ValidKey(key string) bool {
	if len(key) != hex.EncodedLen(md5.Size) {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
