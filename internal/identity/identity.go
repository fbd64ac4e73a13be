// Package identity manages the host's persistent self-signed certificate,
// the stable TOFU handle clients pin across restarts.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/comacode/comacode/internal/gwerr"
)

const (
	certFileName = "host.crt"
	keyFileName  = "host.key"
	subjectCN    = "comacode.local"
	certValidity = 10 * 365 * 24 * time.Hour
)

// Identity is the host's self-signed certificate and private key, loaded
// once at startup and held for the life of the process.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	DERBytes    []byte
}

// Fingerprint returns the lowercase, colon-delimited SHA-256 digest of the
// DER-encoded certificate, e.g. "aa:bb:...:ff".
func (id *Identity) Fingerprint() string {
	return FingerprintOf(id.DERBytes)
}

// FingerprintOf computes the same lowercase, colon-delimited SHA-256
// digest Fingerprint does, for a DER-encoded certificate obtained
// elsewhere (e.g. the live DTLS transport in internal/transport), so both
// sides of a TOFU comparison compute the fingerprint identically.
func FingerprintOf(der []byte) string {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// Load resolves the identity from dataDir, generating and persisting a
// fresh self-signed certificate/key pair if either file is missing. The
// certificate and key on disk always correspond to each other: if either
// is missing, both are regenerated.
func Load(dataDir string) (*Identity, error) {
	certPath := filepath.Join(dataDir, certFileName)
	keyPath := filepath.Join(dataDir, keyFileName)

	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	if certErr == nil && keyErr == nil {
		id, err := loadExisting(certPath, keyPath)
		if err != nil {
			return nil, gwerr.Wrap(gwerr.KindIdentity, "load existing identity", err)
		}
		return id, nil
	}

	id, err := generate()
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindIdentity, "generate identity", err)
	}
	if err := persist(id, certPath, keyPath); err != nil {
		return nil, gwerr.Wrap(gwerr.KindIdentity, "persist identity", err)
	}
	return id, nil
}

func generate() (*Identity, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: subjectCN},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	return &Identity{Certificate: cert, PrivateKey: priv, DERBytes: der}, nil
}

func persist(id *Identity, certPath, keyPath string) error {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.DERBytes})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return err
	}

	keyBytes, err := x509.MarshalECPrivateKey(id.PrivateKey)
	if err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return err
	}
	return os.Chmod(keyPath, 0o600)
}

func loadExisting(certPath, keyPath string) (*Identity, error) {
	certPEMBytes, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	certBlock, _ := pem.Decode(certPEMBytes)
	if certBlock == nil {
		return nil, fmt.Errorf("no PEM block found in %s", certPath)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, err
	}

	keyPEMBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	keyBlock, _ := pem.Decode(keyPEMBytes)
	if keyBlock == nil {
		return nil, fmt.Errorf("no PEM block found in %s", keyPath)
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, err
	}

	return &Identity{Certificate: cert, PrivateKey: key, DERBytes: certBlock.Bytes}, nil
}
