// Package secureid derives opaque, deterministic remote object names
// from local relative paths, so the bucket's true directory structure
// is never exposed to whoever controls the remote storage account.
package secureid

import (
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Params configures the Argon2id derivation. The salts come from
// configuration; there is deliberately no hardcoded fallback (see
// DESIGN.md, "Open Questions resolved").
type Params struct {
	// NameSalt is mixed into the password material ahead of the
	// path, so that two deployments using the same FixedSalt but
	// different NameSalt values never collide.
	NameSalt string
	// FixedSalt is the Argon2id salt proper. Because it is fixed
	// (not random per path), the path->name mapping is reproducible
	// from the path alone, and reversible by whoever holds the
	// salt — the index, not the remote name, is the privacy
	// boundary (spec §4.C).
	FixedSalt string

	TimeCost    uint32
	MemoryCost  uint32 // KiB
	Parallelism uint8
	KeyLen      uint32
}

// DefaultParams matches the spec's fixed tuning: time_cost=1,
// memory_cost=512KiB, parallelism=2, 16-byte output.
func DefaultParams(nameSalt, fixedSalt string) Params {
	return Params{
		NameSalt:    nameSalt,
		FixedSalt:   fixedSalt,
		TimeCost:    1,
		MemoryCost:  512,
		Parallelism: 2,
		KeyLen:      16,
	}
}

// ErrMissingSalt is returned when either salt is empty. The spec's
// open question on salt handling is resolved in favor of requiring
// both configured salts rather than silently falling back to a
// hardcoded value.
var ErrMissingSalt = errors.New("secureid: both NameSalt and FixedSalt must be configured")

// Name derives the opaque, URL-safe remote object name for path. It is
// deterministic: calling Name twice with the same path and params
// always returns the same string, in the same process or a different
// one.
func Name(path string, p Params) (string, error) {
	if p.NameSalt == "" || p.FixedSalt == "" {
		return "", ErrMissingSalt
	}
	password := []byte(p.NameSalt + path)
	salt := []byte(p.FixedSalt)
	key := argon2.IDKey(password, salt, p.TimeCost, p.MemoryCost, p.Parallelism, p.KeyLen)
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(key), nil
}
