package cryptostream

import (
	"io"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"
)

// noCompressionConfig disables openpgp's own internal compression —
// the plaintext arriving here has already passed through
// pkg/stream's gzip stage, and double-compressing wastes CPU for no
// size benefit (spec §4.B).
var noCompressionConfig = &packet.Config{
	CompressionConfig: &packet.CompressionConfig{Level: packet.NoCompression},
}

// EncryptReader wraps upstream (plaintext) and yields its OpenPGP
// ciphertext, encrypted to every entity in the keyring. Because
// openpgp.Encrypt exposes a push (io.WriteCloser) API rather than a
// pull one, a goroutine drains upstream into that writer while this
// reader drains the other end of a pipe — the producer/consumer split
// the spec's Design Notes call for (§9), sized by io.Pipe's
// synchronous, unbuffered handoff.
func EncryptReader(upstream io.Reader, keyring *Keyring) (io.Reader, error) {
	pr, pw := io.Pipe()
	plaintextWriter, err := openpgp.Encrypt(pw, keyring.entities, nil, nil, noCompressionConfig)
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}

	go func() {
		if _, err := io.Copy(plaintextWriter, upstream); err != nil {
			plaintextWriter.Close()
			pw.CloseWithError(err)
			return
		}
		if err := plaintextWriter.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	return pr, nil
}

// DecryptReader wraps upstream (OpenPGP ciphertext) and yields the
// decrypted plaintext. keyring's private key is unlocked with
// passphrase on first use.
func DecryptReader(upstream io.Reader, keyring *Keyring, passphrase []byte) (io.Reader, error) {
	if err := keyring.unlock(passphrase); err != nil {
		return nil, err
	}
	prompt := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		return passphrase, nil
	}
	md, err := openpgp.ReadMessage(upstream, keyring.entities, prompt, nil)
	if err != nil {
		return nil, err
	}
	return md.UnverifiedBody, nil
}
