package qrlink_test

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/qrlink"
)

func sampleDocument() *model.Document {
	return &model.Document{
		DocType:     model.DocTypeFactura,
		IssueDate:   time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		Environment: model.EnvTest,
		Receiver: model.Party{
			RUC:        "4444401",
			RUCDigit:   7,
			TaxpayerID: true,
		},
		Items:      []model.LineItem{{Number: 1}, {Number: 2}},
		GrandTotal: decimal.NewFromInt(1100000),
		VATTotal:   decimal.NewFromInt(100000),
		CDC:        "01800123454001001000003320260314112345678906",
	}
}

func sampleDigest() string {
	return base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func TestBuild_Deterministic(t *testing.T) {
	gen := qrlink.NewGenerator("ABCD0000000000000000000000000000", 1)
	doc := sampleDocument()

	first, err := gen.Build(doc, sampleDigest())
	require.NoError(t, err)
	second, err := gen.Build(doc, sampleDigest())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuild_ParameterOrder(t *testing.T) {
	gen := qrlink.NewGenerator("SECRET", 2)
	doc := sampleDocument()

	url, err := gen.Build(doc, sampleDigest())
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(url, qrlink.BaseURLTest))
	query := strings.TrimPrefix(url, qrlink.BaseURLTest)

	keys := make([]string, 0, 10)
	for _, pair := range strings.Split(query, "&") {
		keys = append(keys, strings.SplitN(pair, "=", 2)[0])
	}
	assert.Equal(t, []string{
		"nVersion", "Id", "dFeEmiDE", "dRucRec", "dTotGralOpe",
		"dTotIVA", "cItems", "DigestValue", "IdCSC", "cHashQR",
	}, keys)
}

func TestBuild_FieldEncodings(t *testing.T) {
	gen := qrlink.NewGenerator("SECRET", 1)
	doc := sampleDocument()

	url, err := gen.Build(doc, sampleDigest())
	require.NoError(t, err)

	assert.Contains(t, url, "nVersion=150&")
	assert.Contains(t, url, "Id="+doc.CDC)
	assert.Contains(t, url, "dRucRec=4444401-7")
	assert.Contains(t, url, "dTotGralOpe=1100000")
	assert.Contains(t, url, "dTotIVA=100000")
	assert.Contains(t, url, "cItems=2")
	assert.Contains(t, url, "IdCSC=0001")

	// Issue timestamp is lowercase hex of its ISO text.
	issueHex := hex.EncodeToString([]byte("2026-03-14T10:30:00"))
	assert.Contains(t, url, "dFeEmiDE="+issueHex)
	assert.Equal(t, strings.ToLower(issueHex), issueHex, "hex values must be lowercase")

	// Digest is hex of the re-encoded base64 text.
	digestHex := hex.EncodeToString([]byte(sampleDigest()))
	assert.Contains(t, url, "DigestValue="+digestHex)
}

func TestBuild_RemissionNoteForcesZeroTotals(t *testing.T) {
	gen := qrlink.NewGenerator("SECRET", 1)
	doc := sampleDocument()
	doc.DocType = model.DocTypeNotaRemision

	url, err := gen.Build(doc, sampleDigest())
	require.NoError(t, err)

	assert.Contains(t, url, "dTotGralOpe=0&")
	assert.Contains(t, url, "dTotIVA=0&")
}

func TestBuild_ReceiverFallbacks(t *testing.T) {
	gen := qrlink.NewGenerator("SECRET", 1)

	doc := sampleDocument()
	doc.Receiver = model.Party{GenericID: "1234567"}
	url, err := gen.Build(doc, sampleDigest())
	require.NoError(t, err)
	assert.Contains(t, url, "dNumIDRec=1234567")

	doc.Receiver = model.Party{}
	url, err = gen.Build(doc, sampleDigest())
	require.NoError(t, err)
	assert.Contains(t, url, "dNumIDRec=0")
}

func TestBuild_HashCoversSecurityCode(t *testing.T) {
	doc := sampleDocument()
	a, err := qrlink.NewGenerator("SECRET-A", 1).Build(doc, sampleDigest())
	require.NoError(t, err)
	b, err := qrlink.NewGenerator("SECRET-B", 1).Build(doc, sampleDigest())
	require.NoError(t, err)

	prefix := a[:strings.Index(a, "cHashQR=")]
	assert.True(t, strings.HasPrefix(b, prefix), "parameters before the hash must match")
	assert.NotEqual(t, a, b, "hash must depend on the CSC")
}

func TestBuild_ProdBaseURL(t *testing.T) {
	doc := sampleDocument()
	doc.Environment = model.EnvProd
	url, err := qrlink.NewGenerator("SECRET", 1).Build(doc, sampleDigest())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, qrlink.BaseURLProd))
}

func TestBuild_MissingFields(t *testing.T) {
	gen := qrlink.NewGenerator("SECRET", 1)

	tests := []struct {
		name   string
		mutate func(*model.Document) string // returns digest to use
	}{
		{"no CDC", func(d *model.Document) string { d.CDC = ""; return sampleDigest() }},
		{"no issue date", func(d *model.Document) string { d.IssueDate = time.Time{}; return sampleDigest() }},
		{"no digest", func(d *model.Document) string { return "" }},
		{"bad digest", func(d *model.Document) string { return "!!not-base64!!" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := sampleDocument()
			digest := tt.mutate(doc)
			_, err := gen.Build(doc, digest)
			var pe *model.PipelineError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, model.KindFormat, pe.Kind)
		})
	}

	_, err := qrlink.NewGenerator("", 1).Build(sampleDocument(), sampleDigest())
	require.Error(t, err)
}
