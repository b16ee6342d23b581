// Package preflight re-validates a packaged batch locally before any
// network call. It trusts nothing upstream: the envelope is re-parsed,
// the archive re-opened, and every signing/packaging invariant checked
// again, so a bug anywhere earlier in the pipeline is caught here
// instead of on the wire.
package preflight

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rezonia/sifen-client/internal/batch"
	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/signer"
	"github.com/rezonia/sifen-client/internal/xmlutil"
)

// Validator re-checks packaged envelopes before transmission
type Validator struct {
	// DiagnosticsDir receives the offending SOAP and archive when a
	// check fails. Empty disables persistence.
	DiagnosticsDir string

	logger *zap.Logger
}

// New creates a preflight validator
func New(diagnosticsDir string, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{DiagnosticsDir: diagnosticsDir, logger: logger}
}

// Validate re-checks every structural invariant of a packaged batch.
// On failure the offending artifacts are persisted and a PreflightError
// pointing at them is returned; the envelope must not be sent.
func (v *Validator) Validate(env *batch.Envelope) error {
	if err := v.check(env); err != nil {
		artifact := v.persist(env)
		if pe, ok := err.(*model.PipelineError); ok {
			pe.Artifact = artifact
			v.logger.Error("preflight check failed",
				zap.String("field", pe.Field),
				zap.String("correlation_id", env.CorrelationID),
				zap.String("artifact", artifact),
			)
			return pe
		}
		return model.ErrPreflight("envelope", err.Error(), artifact)
	}
	return nil
}

func (v *Validator) check(env *batch.Envelope) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(env.SOAP); err != nil {
		return model.ErrPreflight("envelope", fmt.Sprintf("unparseable SOAP: %v", err), "")
	}
	root := doc.Root()
	if root == nil || xmlutil.LocalName(root) != "Envelope" {
		return model.ErrPreflight("envelope", "root is not a SOAP Envelope", "")
	}

	req := xmlutil.FindByLocalName(root, env.Operation.Name)
	if req == nil {
		return model.ErrPreflight(env.Operation.Name, "request element missing from body", "")
	}

	id := xmlutil.TextByLocalName(req, "dId")
	if len(id) != 15 || id != env.CorrelationID {
		return model.ErrPreflight("dId", fmt.Sprintf("correlation id %q does not match envelope %q", id, env.CorrelationID), "")
	}

	encoded := xmlutil.TextByLocalName(req, "xDE")
	if encoded == "" {
		return model.ErrPreflight("xDE", "embedded archive missing", "")
	}
	archive, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return model.ErrPreflight("xDE", fmt.Sprintf("archive is not valid base64: %v", err), "")
	}

	lotXML, err := openSingleEntry(archive)
	if err != nil {
		return model.ErrPreflight("zip", err.Error(), "")
	}

	lot := etree.NewDocument()
	if err := lot.ReadFromBytes(lotXML); err != nil {
		return model.ErrPreflight("rLoteDE", fmt.Sprintf("unparseable lot: %v", err), "")
	}
	if lot.Root() == nil || xmlutil.LocalName(lot.Root()) != "rLoteDE" {
		return model.ErrPreflight("rLoteDE", "lot root is not rLoteDE", "")
	}

	rdes := xmlutil.FindAllByLocalName(lot.Root(), "rDE")
	if len(rdes) != 1 {
		return model.ErrPreflight("rDE", fmt.Sprintf("want exactly 1 inner document, found %d", len(rdes)), "")
	}
	rde := rdes[0]

	de := xmlutil.ChildByLocalName(rde, "DE")
	if de == nil {
		return model.ErrPreflight("DE", "inner document has no DE payload", "")
	}
	payloadID := de.SelectAttrValue("Id", "")
	if payloadID == "" {
		return model.ErrPreflight("DE", "payload has no Id attribute", "")
	}

	if err := signer.CheckInvariants(rde, payloadID); err != nil {
		if pe, ok := err.(*model.PipelineError); ok {
			return model.ErrPreflight(pe.Field, pe.Message, "")
		}
		return err
	}

	return checkAlgorithms(rde)
}

// checkAlgorithms confirms the signature carries the required algorithm
// identifiers. Signing invariants cover presence and placement; this
// guards against an upstream change of canonicalization or digest.
func checkAlgorithms(rde *etree.Element) error {
	sig := xmlutil.FindByLocalName(rde, "Signature")

	checks := []struct {
		element string
		uri     string
	}{
		{"CanonicalizationMethod", signer.ExclusiveC14NURI},
		{"SignatureMethod", signer.RSASHA256URI},
		{"DigestMethod", signer.SHA256DigestURI},
	}
	for _, c := range checks {
		elem := xmlutil.FindByLocalName(sig, c.element)
		if elem == nil {
			return model.ErrPreflight(c.element, "algorithm element missing", "")
		}
		if got := elem.SelectAttrValue("Algorithm", ""); got != c.uri {
			return model.ErrPreflight(c.element, fmt.Sprintf("algorithm %q, want %q", got, c.uri), "")
		}
	}

	transforms := xmlutil.FindAllByLocalName(sig, "Transform")
	found := map[string]bool{}
	for _, tr := range transforms {
		found[tr.SelectAttrValue("Algorithm", "")] = true
	}
	if !found[signer.EnvelopedTransformURI] {
		return model.ErrPreflight("Transform", "enveloped-signature transform missing", "")
	}
	if !found[signer.ExclusiveC14NURI] {
		return model.ErrPreflight("Transform", "exclusive canonicalization transform missing", "")
	}
	return nil
}

// persist writes the failing SOAP and archive to the diagnostics dir,
// returning the SOAP artifact path, or "" when persistence is disabled
// or fails.
func (v *Validator) persist(env *batch.Envelope) string {
	if v.DiagnosticsDir == "" {
		return ""
	}
	if err := os.MkdirAll(v.DiagnosticsDir, 0o700); err != nil {
		v.logger.Warn("cannot create diagnostics dir", zap.Error(err))
		return ""
	}

	stem := fmt.Sprintf("preflight-%s-%s", env.CorrelationID, uuid.NewString())
	soapPath := filepath.Join(v.DiagnosticsDir, stem+".xml")
	if err := os.WriteFile(soapPath, env.SOAP, 0o600); err != nil {
		v.logger.Warn("cannot persist SOAP artifact", zap.Error(err))
		return ""
	}
	if len(env.ZIP) > 0 {
		if err := os.WriteFile(filepath.Join(v.DiagnosticsDir, stem+".zip"), env.ZIP, 0o600); err != nil {
			v.logger.Warn("cannot persist archive artifact", zap.Error(err))
		}
	}
	return soapPath
}

func openSingleEntry(archive []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("archive does not open: %v", err)
	}
	if len(zr.File) != 1 {
		return nil, fmt.Errorf("want a single-entry archive, found %d entries", len(zr.File))
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("archive entry does not open: %v", err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
