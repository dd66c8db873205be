package gpg

import (
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/ochairo/tally/internal/domain/interfaces/gateways"
)

// SignatureSuffix is appended to a file name to name its detached signature
const SignatureSuffix = ".asc"

// Signer writes armored detached signatures with one private key
type Signer struct {
	entity *openpgp.Entity
}

// NewSigner loads the first key of keyPath. An encrypted key is unlocked with passphrase.
func NewSigner(keyPath string, passphrase []byte) (*Signer, error) {
	entities, err := readKeyRing(keyPath)
	if err != nil {
		return nil, err
	}

	entity := entities[0]
	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("key %X has no private part", entity.PrimaryKey.Fingerprint)
	}
	if entity.PrivateKey.Encrypted {
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("private key is encrypted and no passphrase was given")
		}
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return nil, fmt.Errorf("failed to unlock private key: %w", err)
		}
		for _, sub := range entity.Subkeys {
			if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
				if err := sub.PrivateKey.Decrypt(passphrase); err != nil {
					return nil, fmt.Errorf("failed to unlock subkey: %w", err)
				}
			}
		}
	}

	return &Signer{entity: entity}, nil
}

var _ gateways.Signer = (*Signer)(nil)

// Fingerprint returns the signing key fingerprint in hex
func (s *Signer) Fingerprint() string {
	return fmt.Sprintf("%X", s.entity.PrimaryKey.Fingerprint)
}

// SignFile writes <path>.asc next to path
func (s *Signer) SignFile(path string) (string, error) {
	//nolint:gosec // G304: path is a report file written by this process
	data, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer data.Close()

	sigPath := path + SignatureSuffix
	//nolint:gosec // G304: sigPath is derived from a report file path
	out, err := os.OpenFile(sigPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create signature file: %w", err)
	}

	if err := openpgp.ArmoredDetachSign(out, s.entity, data, nil); err != nil {
		_ = out.Close()
		_ = os.Remove(sigPath)
		return "", fmt.Errorf("failed to sign %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to write signature file: %w", err)
	}
	return sigPath, nil
}
