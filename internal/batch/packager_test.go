package batch_test

import (
	"archive/zip"
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/sifen-client/internal/batch"
	"github.com/rezonia/sifen-client/internal/cdc"
	"github.com/rezonia/sifen-client/internal/credential"
	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/qrlink"
	"github.com/rezonia/sifen-client/internal/signer"
	"github.com/rezonia/sifen-client/internal/xmlutil"
)

func signedDocument(t *testing.T) *signer.SignedDocument {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "EMPRESA DEMO S.A."},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	doc := &model.Document{
		DocType:         model.DocTypeFactura,
		Establishment:   1,
		ExpeditionPoint: 1,
		DocNumber:       77,
		TaxpayerType:    2,
		EmissionType:    1,
		IssueDate:       time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		SecurityCode:    "987654321",
		TimbradoNumber:  "12558946",
		Issuer:          model.Party{RUC: "80012345", RUCDigit: 4, Name: "EMPRESA DEMO S.A."},
		Receiver:        model.Party{RUC: "4444401", RUCDigit: 7, Name: "CLIENTE S.R.L.", TaxpayerID: true},
		Items: []model.LineItem{
			{Number: 1, Description: "Servicio", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(500000)},
		},
		GrandTotal:  decimal.NewFromInt(500000),
		VATTotal:    decimal.NewFromInt(45455),
		Environment: model.EnvTest,
	}
	code, err := cdc.Compute(cdc.FieldsFromDocument(doc))
	require.NoError(t, err)
	doc.CDC = code

	cred := &credential.Credential{PrivateKey: key, Certificate: cert, Fingerprint: "test"}
	sd, err := signer.New(cred, qrlink.NewGenerator("SECRET", 1)).Sign(doc)
	require.NoError(t, err)
	return sd
}

func TestGenerateCorrelationID(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 45, 0, time.UTC)
	id := batch.GenerateCorrelationID(now)

	require.Len(t, id, 15)
	assert.Equal(t, "20260314103045", id[:14])
	assert.GreaterOrEqual(t, id[14], byte('0'))
	assert.LessOrEqual(t, id[14], byte('9'))
}

func TestPackage_EnvelopeRoundTrip(t *testing.T) {
	sd := signedDocument(t)

	env, err := batch.Package([]*signer.SignedDocument{sd}, model.EnvTest, "202603141030450")
	require.NoError(t, err)
	assert.Equal(t, "202603141030450", env.CorrelationID)
	assert.Equal(t, "rEnvioLote", env.Operation.Name)

	// Parse the SOAP request back.
	parsed := etree.NewDocument()
	require.NoError(t, parsed.ReadFromBytes(env.SOAP))

	root := parsed.Root()
	assert.Equal(t, "Envelope", xmlutil.LocalName(root))

	req := xmlutil.FindByLocalName(root, "rEnvioLote")
	require.NotNil(t, req)
	assert.Equal(t, "202603141030450", xmlutil.TextByLocalName(req, "dId"))

	// The embedded archive decodes to a single-entry ZIP holding the lot.
	archive, err := base64.StdEncoding.DecodeString(xmlutil.TextByLocalName(req, "xDE"))
	require.NoError(t, err)
	assert.Equal(t, env.ZIP, archive)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, batch.ZipEntryName, zr.File[0].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	lotXML, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	lot := etree.NewDocument()
	require.NoError(t, lot.ReadFromBytes(lotXML))
	assert.Equal(t, "rLoteDE", lot.Root().Tag)
	assert.Len(t, xmlutil.FindAllByLocalName(lot.Root(), "rDE"), 1)
}

func TestPackage_GeneratesFreshID(t *testing.T) {
	sd := signedDocument(t)

	env, err := batch.Package([]*signer.SignedDocument{sd}, model.EnvTest, "")
	require.NoError(t, err)
	require.Len(t, env.CorrelationID, 15)
}

func TestPackage_RejectsBadCorrelationID(t *testing.T) {
	sd := signedDocument(t)

	_, err := batch.Package([]*signer.SignedDocument{sd}, model.EnvTest, "short")
	var pe *model.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.KindPackaging, pe.Kind)
}

func TestPackage_RefusesInvariantViolations(t *testing.T) {
	sd := signedDocument(t)

	// Corrupt the signed document: strip its signature.
	rde := sd.Doc.Root()
	rde.RemoveChild(xmlutil.FindByLocalName(rde, "Signature"))

	_, err := batch.Package([]*signer.SignedDocument{sd}, model.EnvTest, "")
	var pe *model.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.KindPackaging, pe.Kind)

	var inner *model.PipelineError
	require.ErrorAs(t, pe.Cause, &inner)
	assert.Equal(t, model.KindStructuralInvariant, inner.Kind)
}

func TestPackage_EmptyBatch(t *testing.T) {
	_, err := batch.Package(nil, model.EnvTest, "")
	require.Error(t, err)
}

func TestPackage_MultipleDocuments(t *testing.T) {
	docs := []*signer.SignedDocument{signedDocument(t), signedDocument(t)}

	env, err := batch.Package(docs, model.EnvTest, "")
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(env.ZIP), int64(len(env.ZIP)))
	require.NoError(t, err)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	lotXML, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	lot := etree.NewDocument()
	require.NoError(t, lot.ReadFromBytes(lotXML))
	assert.Len(t, xmlutil.FindAllByLocalName(lot.Root(), "rDE"), 2)
}

func TestQueryEnvelope(t *testing.T) {
	env, err := batch.QueryEnvelope(model.EnvTest, "202603141030450", "123456789")
	require.NoError(t, err)
	assert.Equal(t, "rEnviConsLoteDe", env.Operation.Name)

	parsed := etree.NewDocument()
	require.NoError(t, parsed.ReadFromBytes(env.SOAP))
	assert.Equal(t, "202603141030450", xmlutil.TextByLocalName(parsed.Root(), "dId"))
	assert.Equal(t, "123456789", xmlutil.TextByLocalName(parsed.Root(), "dProtConsLote"))
}

func TestQueryEnvelope_ZeroProtocol(t *testing.T) {
	_, err := batch.QueryEnvelope(model.EnvTest, "202603141030450", "0")
	require.Error(t, err)
	_, err = batch.QueryEnvelope(model.EnvTest, "202603141030450", "")
	require.Error(t, err)
}
