// Package credential loads the signing/mTLS key material from a PKCS#12
// archive or a PEM pair. Decoded material is cached read-only, keyed by
// the archive fingerprint; temp files never outlive a single load.
package credential

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/crypto/pkcs12"

	"github.com/rezonia/sifen-client/internal/model"
)

// Credential is the decoded key material for one archive. It serves
// both roles: TLSCertificate for the mTLS handshake, PrivateKey and
// Certificate for XML signing. Treat as read-only once loaded.
type Credential struct {
	TLSCertificate tls.Certificate
	PrivateKey     *rsa.PrivateKey
	Certificate    *x509.Certificate
	CAChain        []*x509.Certificate
	Fingerprint    string
}

// Loader reads and decodes credential archives
type Loader struct {
	// OpenSSLPath overrides the openssl binary used for the legacy
	// fallback. Empty means "openssl" from PATH.
	OpenSSLPath string
}

// NewLoader creates a credential loader
func NewLoader() *Loader {
	return &Loader{}
}

// Load decodes the archive at path with the given passphrase. PEM
// archives must hold both the certificate and the private key; PKCS#12
// archives are decoded with the platform library first and with an
// external legacy-provider OpenSSL invocation when the library does not
// support the archive's KDF.
func (l *Loader) Load(ctx context.Context, path, passphrase string) (*Credential, error) {
	if path == "" {
		return nil, model.ErrMissingCredential("credential archive path not set")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewPipelineError(model.KindMissingCredential, "credential",
			fmt.Sprintf("cannot read archive %s", path), err)
	}

	if isPEM(data) {
		return fromPEM(data, fingerprint(data))
	}

	if passphrase == "" {
		return nil, model.ErrMissingCredential("passphrase not set for PKCS#12 archive")
	}

	blocks, err := pkcs12.ToPEM(data, passphrase)
	if err != nil {
		// Legacy KDFs (and modern AES ones) are outside the library's
		// reach; a real OpenSSL with the legacy provider handles both.
		pemData, fallbackErr := l.convertWithOpenSSL(ctx, path, passphrase)
		if fallbackErr != nil {
			return nil, model.ErrInvalidArchive(fmt.Errorf("pkcs12 decode: %v; openssl fallback: %w", err, fallbackErr))
		}
		return fromPEM(pemData, fingerprint(data))
	}

	var buf bytes.Buffer
	for _, block := range blocks {
		if err := pem.Encode(&buf, block); err != nil {
			return nil, model.ErrInvalidArchive(err)
		}
	}
	return fromPEM(buf.Bytes(), fingerprint(data))
}

// convertWithOpenSSL shells out to openssl with the legacy provider
// enabled. The decrypted PEM lands in an owner-only temp file that is
// removed on every exit path; the passphrase travels via environment,
// never argv.
func (l *Loader) convertWithOpenSSL(ctx context.Context, path, passphrase string) ([]byte, error) {
	binary := l.OpenSSLPath
	if binary == "" {
		binary = "openssl"
	}

	tmpPath := filepath.Join(os.TempDir(), "sifen-cred-"+uuid.NewString()+".pem")
	// Pre-create owner-only so the decrypted key is never readable by
	// anyone else; openssl's own open would use the umask default.
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating temp PEM: %w", err)
	}
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(ctx, binary, "pkcs12",
		"-in", path,
		"-out", tmpPath,
		"-nodes",
		"-legacy",
		"-passin", "env:SIFEN_P12_PASS",
	)
	cmd.Env = append(os.Environ(), "SIFEN_P12_PASS="+passphrase)

	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("openssl pkcs12 -legacy: %w: %s", err, bytes.TrimSpace(output))
	}

	pemData, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("reading converted PEM: %w", err)
	}
	return pemData, nil
}

// fromPEM assembles a Credential from PEM data holding one private key
// and at least one certificate. The leaf is the first certificate whose
// public key matches the private key.
func fromPEM(data []byte, fp string) (*Credential, error) {
	var key *rsa.PrivateKey
	var certs []*x509.Certificate

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, model.ErrInvalidArchive(fmt.Errorf("parsing certificate: %w", err))
			}
			certs = append(certs, cert)
		case "PRIVATE KEY":
			// pkcs12.ToPEM labels RSA keys "PRIVATE KEY" but emits
			// PKCS#1 bytes, so both encodings arrive under this type.
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
				if pkcs1Err != nil {
					return nil, model.ErrInvalidArchive(fmt.Errorf("parsing PKCS#8 key: %w", err))
				}
				key = pkcs1Key
				continue
			}
			rsaKey, ok := parsed.(*rsa.PrivateKey)
			if !ok {
				return nil, model.ErrInvalidArchive(fmt.Errorf("unsupported key type %T", parsed))
			}
			key = rsaKey
		case "RSA PRIVATE KEY":
			parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, model.ErrInvalidArchive(fmt.Errorf("parsing PKCS#1 key: %w", err))
			}
			key = parsed
		}
	}

	if key == nil {
		return nil, model.ErrInvalidArchive(fmt.Errorf("no private key in archive"))
	}
	if len(certs) == 0 {
		return nil, model.ErrInvalidArchive(fmt.Errorf("no certificate in archive"))
	}

	leaf, chain := splitLeaf(key, certs)
	if leaf == nil {
		return nil, model.ErrInvalidArchive(fmt.Errorf("no certificate matches the private key"))
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, ca := range chain {
		tlsCert.Certificate = append(tlsCert.Certificate, ca.Raw)
	}

	return &Credential{
		TLSCertificate: tlsCert,
		PrivateKey:     key,
		Certificate:    leaf,
		CAChain:        chain,
		Fingerprint:    fp,
	}, nil
}

func splitLeaf(key *rsa.PrivateKey, certs []*x509.Certificate) (*x509.Certificate, []*x509.Certificate) {
	for i, cert := range certs {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if ok && pub.N.Cmp(key.N) == 0 {
			chain := make([]*x509.Certificate, 0, len(certs)-1)
			chain = append(chain, certs[:i]...)
			chain = append(chain, certs[i+1:]...)
			return cert, chain
		}
	}
	return nil, nil
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN "))
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
