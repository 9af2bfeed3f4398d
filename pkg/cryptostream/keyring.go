// Package cryptostream provides the recipient-key encrypt/decrypt
// streams used on the final leg of the upload pipeline and the first
// leg of the download pipeline. It wraps golang.org/x/crypto/openpgp,
// the same package the teacher uses to load and unlock signing
// entities (pkg/jsonsign/sign_normal.go), applied here to content
// encryption instead of signing.
package cryptostream

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/openpgp"
)

// Keyring holds the entity (public+private key pair) used both as the
// encryption recipient and, once unlocked with a passphrase, as the
// decryption key. It is safe for concurrent use: openpgp operations
// on an already-parsed EntityList don't mutate shared state except
// for the one-time private key decryption, which is guarded here.
type Keyring struct {
	mu       sync.Mutex
	entities openpgp.EntityList
	unlocked bool
}

// NewKeyring wraps an already-parsed entity list, for callers that
// generate or obtain keys some way other than reading a file (tests,
// or a future "generate a new keypair" command).
func NewKeyring(entities openpgp.EntityList) (*Keyring, error) {
	if len(entities) == 0 {
		return nil, fmt.Errorf("cryptostream: empty entity list")
	}
	return &Keyring{entities: entities}, nil
}

// LoadKeyringFile reads an armored (or raw binary) OpenPGP keyring
// from path. It mirrors the teacher's FileEntityFetcher, which reads
// a key file from disk rather than depending on an external agent.
func LoadKeyringFile(path string) (*Keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cryptostream: open keyring file: %w", err)
	}
	defer f.Close()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		if _, serr := f.Seek(0, 0); serr == nil {
			if entities2, err2 := openpgp.ReadKeyRing(f); err2 == nil {
				entities = entities2
				err = nil
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("cryptostream: parse keyring file: %w", err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("cryptostream: keyring file %s contains no keys", path)
	}
	return &Keyring{entities: entities}, nil
}

// unlock decrypts every private key in the ring with passphrase, the
// first time it's called. Subsequent calls are no-ops, matching the
// teacher's decryptEntity early-return when a key is already usable.
func (k *Keyring) unlock(passphrase []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.unlocked {
		return nil
	}
	for _, e := range k.entities {
		if e.PrivateKey == nil || !e.PrivateKey.Encrypted {
			continue
		}
		if err := e.PrivateKey.Decrypt(passphrase); err != nil {
			return fmt.Errorf("cryptostream: unlock private key %s: %w", e.PrivateKey.KeyIdShortString(), err)
		}
		for _, subkey := range e.Subkeys {
			if subkey.PrivateKey != nil && subkey.PrivateKey.Encrypted {
				if err := subkey.PrivateKey.Decrypt(passphrase); err != nil {
					return fmt.Errorf("cryptostream: unlock subkey %s: %w", subkey.PrivateKey.KeyIdShortString(), err)
				}
			}
		}
	}
	k.unlocked = true
	return nil
}
