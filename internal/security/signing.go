package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Key file names inside a keys directory.
const (
	PublicKeyFile  = "ledger.pub"
	PrivateKeyFile = "ledger.priv"
)

// Signer signs ledger blocks with an ed25519 key.
type Signer struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewSigner wraps an existing keypair.
func NewSigner(pub ed25519.PublicKey, priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, errors.New("invalid public key size")
	}
	return &Signer{Public: pub, private: priv}, nil
}

// GenerateSigner creates a signer with a fresh keypair.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{Public: pub, private: priv}, nil
}

// LoadOrCreateSigner loads the keypair in dir, generating and saving one
// when none exists yet. created reports which happened.
func LoadOrCreateSigner(dir string) (signer *Signer, created bool, err error) {
	pubPath := filepath.Join(dir, PublicKeyFile)
	privPath := filepath.Join(dir, PrivateKeyFile)

	if _, err := os.Stat(privPath); os.IsNotExist(err) {
		s, err := GenerateSigner()
		if err != nil {
			return nil, false, err
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, false, fmt.Errorf("create keys dir: %w", err)
		}
		if err := s.Save(pubPath, privPath); err != nil {
			return nil, false, err
		}
		return s, true, nil
	}

	pub, err := loadHexKey(pubPath, ed25519.PublicKeySize)
	if err != nil {
		return nil, false, fmt.Errorf("load public key: %w", err)
	}
	priv, err := loadHexKey(privPath, ed25519.PrivateKeySize)
	if err != nil {
		return nil, false, fmt.Errorf("load private key: %w", err)
	}
	s, err := NewSigner(pub, priv)
	return s, false, err
}

// Save writes the keypair as hex files.
func (s *Signer) Save(pubPath, privPath string) error {
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(s.Public)), 0o600); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(s.private)), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}

// Sign returns the hex signature of data.
func (s *Signer) Sign(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.private, data))
}

// PublicHex returns the hex encoded public key.
func (s *Signer) PublicHex() string {
	return hex.EncodeToString(s.Public)
}

// PrivateHex returns the hex encoded private key.
func (s *Signer) PrivateHex() string {
	return hex.EncodeToString(s.private)
}

// VerifyHex checks a hex signature of data against a hex encoded public key.
func VerifyHex(pubHex string, data []byte, sigHex string) (bool, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, err
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, errors.New("invalid public key size")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}

func loadHexKey(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	if len(key) != size {
		return nil, fmt.Errorf("invalid key size %d", len(key))
	}
	return key, nil
}
