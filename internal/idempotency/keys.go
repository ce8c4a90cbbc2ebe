// Package idempotency builds deterministic, content-addressed cache keys.
// Adapted from the teacher's tenant/scope/hash key scheme: here "tenant"
// becomes the embedding provider and "scope" the model name, so the same
// canonical text embedded by two different (provider, model) pairs never
// collides in the cache.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	KeyVersion = "v1"

	MaxScopeLen = 128
	MaxKeyLen   = 256
)

var ErrInvalidKey = errors.New("idempotency: invalid key")

// BuildKey computes "v1:<provider>:<model>:<sha256hex(text)>".
func BuildKey(provider, model, text string) (string, error) {
	provider = normalize(provider, "local")
	model = normalize(model, "default")
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("%s:%s:%s:%s", KeyVersion, provider, model, hash)
	if len(key) > MaxKeyLen {
		return "", ErrInvalidKey
	}
	return key, nil
}

// TextHash returns the lowercase hex SHA-256 of text alone, stored as the
// embedding-cache record's text_hash and combined with provider and model
// to form the record's persistent key.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func normalize(s, fallback string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	if len(s) > MaxScopeLen {
		s = s[:MaxScopeLen]
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return string(out)
}
