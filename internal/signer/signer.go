// Package signer produces the enveloped XMLDSig signature over the DE
// payload and owns the singleton QR-extension block that follows it.
package signer

import (
	"crypto"
	"crypto/rsa"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/rezonia/sifen-client/internal/credential"
	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/qrlink"
	"github.com/rezonia/sifen-client/internal/xmlutil"
)

// Algorithm URIs that must appear in a well-formed signature
const (
	EnvelopedTransformURI = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	ExclusiveC14NURI      = "http://www.w3.org/2001/10/xml-exc-c14n#"
	RSASHA256URI          = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	SHA256DigestURI       = "http://www.w3.org/2001/04/xmlenc#sha256"
)

// QRExtensionTag is the element that carries the printable QR link. It
// sits immediately after the Signature, exactly once.
const QRExtensionTag = "gCamFuFD"

// SignedDocument is a DE wrapped in its rDE root with exactly one
// enveloped signature and one QR-extension block. Recompute it from the
// model whenever any CDC constituent changes; never mutate in place.
type SignedDocument struct {
	Doc         *etree.Document
	CDC         string
	DigestValue string // base64 digest from the signature reference
	QRLink      string
}

// Bytes serializes the signed document
func (sd *SignedDocument) Bytes() ([]byte, error) {
	return sd.Doc.WriteToBytes()
}

// Signer signs DE payloads with one credential
type Signer struct {
	cred *credential.Credential
	qr   *qrlink.Generator
}

// New creates a signer for the given credential and QR generator
func New(cred *credential.Credential, qr *qrlink.Generator) *Signer {
	return &Signer{cred: cred, qr: qr}
}

type keyStore struct {
	cred *credential.Credential
}

func (k keyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	if k.cred.PrivateKey == nil || k.cred.Certificate == nil {
		return nil, nil, fmt.Errorf("credential holds no key pair")
	}
	return k.cred.PrivateKey, k.cred.Certificate.Raw, nil
}

// Sign serializes the document, signs the DE subtree (exclusive C14N,
// SHA-256, RSA-SHA256), relocates the signature to sit as a sibling of
// DE inside rDE, and rebuilds the QR-extension block. Post-conditions
// are enforced before returning; a document that fails them is never
// handed out.
func (s *Signer) Sign(d *model.Document) (*SignedDocument, error) {
	doc, err := d.BuildXML()
	if err != nil {
		return nil, err
	}

	rde := doc.Root()
	de := rde.SelectElement("DE")
	if de == nil {
		return nil, model.ErrSigning(fmt.Errorf("document has no DE element"))
	}

	signCtx := dsig.NewDefaultSigningContext(keyStore{cred: s.cred})
	signCtx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	signCtx.Hash = crypto.SHA256
	signCtx.IdAttribute = "Id"
	if err := signCtx.SetSignatureMethod(RSASHA256URI); err != nil {
		return nil, model.ErrSigning(err)
	}

	signedDE, err := signCtx.SignEnveloped(de)
	if err != nil {
		return nil, model.ErrSigning(err)
	}

	// SignEnveloped leaves the signature as the last child of DE. The
	// platform wants it as a sibling, directly after DE; the enveloped
	// transform keeps the digest valid either way.
	sig := lastSignatureChild(signedDE)
	if sig == nil {
		return nil, model.ErrSigning(fmt.Errorf("signing produced no Signature element"))
	}
	signedDE.RemoveChild(sig)

	rde.RemoveChild(de)
	rde.AddChild(signedDE)
	rde.AddChild(sig)

	digest := xmlutil.TextByLocalName(sig, "DigestValue")

	sd := &SignedDocument{
		Doc:         doc,
		CDC:         d.CDC,
		DigestValue: digest,
	}

	url, err := s.qr.Build(d, digest)
	if err != nil {
		return nil, err
	}
	sd.QRLink = url
	attachQR(rde, sig, url)

	if err := CheckInvariants(rde, d.CDC); err != nil {
		return nil, err
	}
	return sd, nil
}

// attachQR removes every existing QR-extension block and builds exactly
// one, immediately after the signature.
func attachQR(rde, sig *etree.Element, url string) {
	for _, stale := range xmlutil.FindAllByLocalName(rde, QRExtensionTag) {
		if parent := stale.Parent(); parent != nil {
			parent.RemoveChild(stale)
		}
	}

	block := etree.NewElement(QRExtensionTag)
	block.CreateElement("dCarQR").SetText(url)
	rde.InsertChildAt(sig.Index()+1, block)
}

func lastSignatureChild(elem *etree.Element) *etree.Element {
	children := elem.ChildElements()
	for i := len(children) - 1; i >= 0; i-- {
		if xmlutil.LocalName(children[i]) == "Signature" {
			return children[i]
		}
	}
	return nil
}

// CheckInvariants verifies the structural post-conditions of a signed
// rDE: exactly one signature, placed as a sibling (never a child) of
// DE, referencing it by id, with real certificate and signature values,
// and exactly one QR-extension block directly after the signature.
func CheckInvariants(rde *etree.Element, payloadID string) error {
	de := xmlutil.ChildByLocalName(rde, "DE")
	if de == nil {
		return model.ErrStructuralInvariant("DE", "rDE has no DE payload")
	}
	if got := de.SelectAttrValue("Id", ""); got != payloadID {
		return model.ErrStructuralInvariant("DE", fmt.Sprintf("payload Id %q does not match control code %q", got, payloadID))
	}

	sigs := xmlutil.FindAllByLocalName(rde, "Signature")
	if len(sigs) != 1 {
		return model.ErrStructuralInvariant("Signature", fmt.Sprintf("want exactly 1 Signature, found %d", len(sigs)))
	}
	sig := sigs[0]
	if sig.Parent() != rde {
		return model.ErrStructuralInvariant("Signature", "signature must be a sibling of DE, not nested")
	}
	if len(xmlutil.FindAllByLocalName(de, "Signature")) != 0 {
		return model.ErrStructuralInvariant("Signature", "signature nested inside the DE payload")
	}

	ref := xmlutil.FindByLocalName(sig, "Reference")
	if ref == nil {
		return model.ErrStructuralInvariant("Reference", "signature has no Reference")
	}
	if uri := ref.SelectAttrValue("URI", ""); uri != "#"+payloadID {
		return model.ErrStructuralInvariant("Reference", fmt.Sprintf("reference URI %q, want %q", uri, "#"+payloadID))
	}

	if isBlankOrPlaceholder(xmlutil.TextByLocalName(sig, "DigestValue")) {
		return model.ErrStructuralInvariant("DigestValue", "empty or placeholder digest")
	}
	if isBlankOrPlaceholder(xmlutil.TextByLocalName(sig, "SignatureValue")) {
		return model.ErrStructuralInvariant("SignatureValue", "empty or placeholder signature value")
	}
	if isBlankOrPlaceholder(xmlutil.TextByLocalName(sig, "X509Certificate")) {
		return model.ErrStructuralInvariant("X509Certificate", "empty or placeholder certificate")
	}

	qrs := xmlutil.FindAllByLocalName(rde, QRExtensionTag)
	if len(qrs) != 1 {
		return model.ErrStructuralInvariant(QRExtensionTag, fmt.Sprintf("want exactly 1 QR block, found %d", len(qrs)))
	}
	if qrs[0].Index() != sig.Index()+1 || qrs[0].Parent() != rde {
		return model.ErrStructuralInvariant(QRExtensionTag, "QR block must directly follow the signature")
	}
	if isBlankOrPlaceholder(xmlutil.TextByLocalName(qrs[0], "dCarQR")) {
		return model.ErrStructuralInvariant("dCarQR", "empty QR link")
	}

	return nil
}

func isBlankOrPlaceholder(value string) bool {
	switch value {
	case "", "TODO", "PLACEHOLDER", "CHANGEME":
		return true
	}
	return false
}
