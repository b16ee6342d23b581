// Package qrlink derives the printable QR consultation URL for a signed
// document. Parameter order and encoding are fixed by the platform's
// reference implementation and must not change, including the
// decode/re-encode round trip on the digest.
package qrlink

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rezonia/sifen-client/internal/model"
)

// Version is the QR format version constant (nVersion)
const Version = "150"

// Consultation base URLs per environment. No URL-encoding is applied to
// anything appended after them.
const (
	BaseURLProd = "https://ekuatia.set.gov.py/consultas/qr?"
	BaseURLTest = "https://ekuatia.set.gov.py/consultas-test/qr?"
)

// Generator builds QR URLs with one security credential (CSC)
type Generator struct {
	csc   string // secret, appended to the hashed parameter string
	cscID int    // identifier of the CSC, 4-digit zero-padded in the URL
}

// NewGenerator creates a QR link generator for the given CSC
func NewGenerator(csc string, cscID int) *Generator {
	return &Generator{csc: csc, cscID: cscID}
}

// Build derives the QR URL for a signed document. digestB64 is the
// base64 DigestValue taken from the document's signature. Every source
// field must be present; a partial URL is never produced.
func (g *Generator) Build(d *model.Document, digestB64 string) (string, error) {
	if g.csc == "" {
		return "", model.ErrFormat("CSC", "security code not configured")
	}
	if d.CDC == "" {
		return "", model.ErrFormat("Id", "control code not set")
	}
	if d.IssueDate.IsZero() {
		return "", model.ErrFormat("dFeEmiDE", "issue date not set")
	}
	if digestB64 == "" {
		return "", model.ErrFormat("DigestValue", "signature digest not set")
	}

	// The digest goes through a decode/encode round trip before hex
	// encoding. The round trip is a no-op on well-formed input; it is
	// kept because the platform's reference implementation does it.
	raw, err := base64.StdEncoding.DecodeString(digestB64)
	if err != nil {
		return "", model.ErrFormat("DigestValue", fmt.Sprintf("not valid base64: %v", err))
	}
	digestHex := hex.EncodeToString([]byte(base64.StdEncoding.EncodeToString(raw)))

	issueHex := hex.EncodeToString([]byte(d.IssueDate.Format("2006-01-02T15:04:05")))

	totalGral, totalIVA := "0", "0"
	if d.HasTotals() {
		totalGral = d.GrandTotal.String()
		totalIVA = d.VATTotal.String()
	}

	receiverKey := "dNumIDRec"
	if d.Receiver.TaxpayerID && d.Receiver.RUC != "" {
		receiverKey = "dRucRec"
	}

	params := []string{
		"nVersion=" + Version,
		"Id=" + d.CDC,
		"dFeEmiDE=" + issueHex,
		receiverKey + "=" + d.ReceiverID(),
		"dTotGralOpe=" + totalGral,
		"dTotIVA=" + totalIVA,
		fmt.Sprintf("cItems=%d", len(d.Items)),
		"DigestValue=" + digestHex,
		fmt.Sprintf("IdCSC=%04d", g.cscID),
	}
	joined := strings.Join(params, "&")

	sum := sha256.Sum256([]byte(joined + g.csc))
	hash := hex.EncodeToString(sum[:])

	return baseURL(d.Environment) + joined + "&cHashQR=" + hash, nil
}

func baseURL(env model.Environment) string {
	if env == model.EnvProd {
		return BaseURLProd
	}
	return BaseURLTest
}
