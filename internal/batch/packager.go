// Package batch wraps signed documents into the compressed, base64,
// SOAP-enveloped lot that the async reception service accepts.
package batch

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"math/rand"
	"time"

	"github.com/beevik/etree"

	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/signer"
	"github.com/rezonia/sifen-client/internal/transport"
)

// SOAP 1.2 envelope namespace
const SoapEnvelopeNS = "http://www.w3.org/2003/05/soap-envelope"

// ZipEntryName is the single entry inside the lot archive
const ZipEntryName = "lote.xml"

// Envelope is a packaged batch ready for preflight and transmission
type Envelope struct {
	CorrelationID string
	Operation     transport.Operation
	Environment   model.Environment
	SOAP          []byte // the complete SOAP 1.2 request
	ZIP           []byte // the raw archive, kept for diagnostics
}

// GenerateCorrelationID builds a fresh 15-digit lot id: a 14-digit
// timestamp plus one random digit. Generated per attempt, never reused
// across retries.
func GenerateCorrelationID(now time.Time) string {
	return now.Format("20060102150405") + fmt.Sprintf("%d", rand.Intn(10))
}

// Package assembles signed documents into the submit-batch SOAP
// request. A fresh correlation id is generated when none is supplied.
// Every document is re-checked against the signing invariants first; a
// violated document aborts with PackagingError before anything is
// serialized.
func Package(docs []*signer.SignedDocument, env model.Environment, correlationID string) (*Envelope, error) {
	if len(docs) == 0 {
		return nil, model.ErrPackaging("batch", "no documents to package", nil)
	}
	for i, doc := range docs {
		if doc == nil || doc.Doc == nil || doc.Doc.Root() == nil {
			return nil, model.ErrPackaging("batch", fmt.Sprintf("document %d is empty", i), nil)
		}
		if err := signer.CheckInvariants(doc.Doc.Root(), doc.CDC); err != nil {
			return nil, model.ErrPackaging("batch", fmt.Sprintf("document %d violates signing invariants", i), err)
		}
	}

	if correlationID == "" {
		correlationID = GenerateCorrelationID(time.Now())
	}
	if len(correlationID) != 15 {
		return nil, model.ErrPackaging("dId", fmt.Sprintf("correlation id must be 15 digits, got %q", correlationID), nil)
	}

	lotXML, err := buildLot(docs)
	if err != nil {
		return nil, model.ErrPackaging("rLoteDE", "serializing lot", err)
	}

	archive, err := zipSingleEntry(lotXML)
	if err != nil {
		return nil, model.ErrPackaging("zip", "compressing lot", err)
	}

	soap, err := buildSOAP(transport.OpSubmitBatch, correlationID, base64.StdEncoding.EncodeToString(archive))
	if err != nil {
		return nil, model.ErrPackaging("envelope", "building SOAP envelope", err)
	}

	return &Envelope{
		CorrelationID: correlationID,
		Operation:     transport.OpSubmitBatch,
		Environment:   env,
		SOAP:          soap,
		ZIP:           archive,
	}, nil
}

// QueryEnvelope builds the query-batch SOAP request for a previously
// accepted lot.
func QueryEnvelope(env model.Environment, correlationID, protocolNumber string) (*Envelope, error) {
	if protocolNumber == "" || protocolNumber == "0" {
		return nil, model.ErrPackaging("dProtConsLote", "query needs a non-zero protocol number", nil)
	}

	doc := etree.NewDocument()
	body := soapShell(doc)

	req := body.CreateElement(transport.OpQueryBatch.Name)
	req.CreateAttr("xmlns", model.SifenNamespace)
	req.CreateElement("dId").SetText(correlationID)
	req.CreateElement("dProtConsLote").SetText(protocolNumber)

	soap, err := doc.WriteToBytes()
	if err != nil {
		return nil, model.ErrPackaging("envelope", "building SOAP envelope", err)
	}
	return &Envelope{
		CorrelationID: correlationID,
		Operation:     transport.OpQueryBatch,
		Environment:   env,
		SOAP:          soap,
	}, nil
}

// buildLot wraps every signed rDE in a single rLoteDE element
func buildLot(docs []*signer.SignedDocument) ([]byte, error) {
	lot := etree.NewDocument()
	lot.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := lot.CreateElement("rLoteDE")

	for _, doc := range docs {
		root.AddChild(doc.Doc.Root().Copy())
	}
	return lot.WriteToBytes()
}

// zipSingleEntry deflates the XML into a one-entry archive
func zipSingleEntry(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	header := &zip.FileHeader{Name: ZipEntryName, Method: zip.Deflate}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildSOAP(op transport.Operation, correlationID, payload string) ([]byte, error) {
	doc := etree.NewDocument()
	body := soapShell(doc)

	parent := body
	if op.Wrapper != "" {
		parent = body.CreateElement(op.Wrapper)
		parent.CreateAttr("xmlns", model.SifenNamespace)
	}
	req := parent.CreateElement(op.Name)
	if op.Wrapper == "" {
		req.CreateAttr("xmlns", model.SifenNamespace)
	}
	req.CreateElement("dId").SetText(correlationID)
	req.CreateElement("xDE").SetText(payload)

	return doc.WriteToBytes()
}

func soapShell(doc *etree.Document) *etree.Element {
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	envelope := doc.CreateElement("env:Envelope")
	envelope.CreateAttr("xmlns:env", SoapEnvelopeNS)
	envelope.CreateElement("env:Header")
	return envelope.CreateElement("env:Body")
}
