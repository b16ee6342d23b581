// Package sifen is the public entry point of the client library. It
// wires credential loading, CDC generation, signing, batch packaging,
// preflight validation, SOAP transport, and batch status tracking into
// a single pipeline.
package sifen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/sifen-client/internal/batch"
	"github.com/rezonia/sifen-client/internal/cdc"
	"github.com/rezonia/sifen-client/internal/credential"
	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/preflight"
	"github.com/rezonia/sifen-client/internal/qrlink"
	"github.com/rezonia/sifen-client/internal/signer"
	"github.com/rezonia/sifen-client/internal/store"
	"github.com/rezonia/sifen-client/internal/tracker"
	"github.com/rezonia/sifen-client/internal/transport"
)

// Options configures a Client
type Options struct {
	// Environment selects the SIFEN deployment, test or prod.
	Environment model.Environment

	// CredentialPath points at the signing credential, a PKCS#12
	// archive or a PEM bundle. Passphrase decrypts the archive and is
	// never logged.
	CredentialPath string
	Passphrase     string
	OpenSSLPath    string

	// CSC and CSCID are the taxpayer's security code material for QR
	// link generation.
	CSC   string
	CSCID int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// StorePath is the SQLite file for batch status records.
	StorePath      string
	DiagnosticsDir string

	Logger *zap.Logger

	// EndpointOverride redirects operations to fixed URLs, keyed by
	// operation name. Used by tests and local proxies.
	EndpointOverride map[string]string
}

// SubmitResult is the outcome of a full submission
type SubmitResult struct {
	CDC            string               `json:"cdc"`
	QRLink         string               `json:"qr_link"`
	CorrelationID  string               `json:"correlation_id"`
	ProtocolNumber string               `json:"protocol_number"`
	Code           string               `json:"code"`
	Message        string               `json:"message"`
	Batch          *tracker.BatchStatus `json:"batch,omitempty"`
}

// Client runs the submission and tracking pipeline
type Client struct {
	opts   Options
	logger *zap.Logger

	credentials *credential.Cache
	store       *store.Store
	qr          *qrlink.Generator
	preflight   *preflight.Validator

	mu        sync.Mutex
	cred      *credential.Credential
	submitter *transport.Client
	poller    *transport.Client
	tracker   *tracker.Tracker
	sweeper   *tracker.Sweeper
}

// NewClient creates a Client. The credential is loaded lazily on the
// first operation that needs it, so construction never touches the
// filesystem besides the status database.
func NewClient(opts Options) (*Client, error) {
	if opts.Environment == "" {
		opts.Environment = model.EnvTest
	}
	if _, err := model.ParseEnvironment(string(opts.Environment)); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StorePath == "" {
		opts.StorePath = "sifen-batches.db"
	}

	st, err := store.Open(store.Config{
		Path:   opts.StorePath,
		Logger: opts.Logger.Named("store"),
	})
	if err != nil {
		return nil, err
	}

	loader := credential.NewLoader()
	if opts.OpenSSLPath != "" {
		loader.OpenSSLPath = opts.OpenSSLPath
	}

	return &Client{
		opts:        opts,
		logger:      opts.Logger,
		credentials: credential.NewCache(loader),
		store:       st,
		qr:          qrlink.NewGenerator(opts.CSC, opts.CSCID),
		preflight:   preflight.New(opts.DiagnosticsDir, opts.Logger.Named("preflight")),
	}, nil
}

// Close releases the status database
func (c *Client) Close() error {
	return c.store.Close()
}

// ensureTransport loads the credential and builds both SOAP clients:
// the submitter with the submission retry schedule and the poller with
// the longer status poll schedule.
func (c *Client) ensureTransport(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred != nil {
		return nil
	}

	cred, err := c.credentials.Get(ctx, c.opts.CredentialPath, c.opts.Passphrase)
	if err != nil {
		return err
	}

	cfg := transport.Config{
		Credential:       cred,
		Environment:      c.opts.Environment,
		ConnectTimeout:   c.opts.ConnectTimeout,
		ReadTimeout:      c.opts.ReadTimeout,
		Logger:           c.logger.Named("transport"),
		EndpointOverride: c.opts.EndpointOverride,
	}

	c.cred = cred
	c.submitter = transport.NewClient(cfg)
	c.poller = transport.NewClient(cfg, transport.WithConnectionRetryDelays(tracker.PollRetryDelays))
	c.tracker = tracker.New(c.store, c.poller, c.logger.Named("tracker"))
	c.sweeper = tracker.NewSweeper(c.tracker, c.logger.Named("sweeper"))
	return nil
}

// Submit runs the full pipeline for one document: compute the CDC,
// sign, package, preflight, send, and record the batch for tracking.
// A platform rejection surfaces as a business rejection error after the
// attempt is logged; transport errors surface once the retry schedule
// is exhausted.
func (c *Client) Submit(ctx context.Context, doc *model.Document) (*SubmitResult, error) {
	if err := c.ensureTransport(ctx); err != nil {
		return nil, err
	}

	if doc.Environment == "" {
		doc.Environment = c.opts.Environment
	}
	if doc.CDC == "" {
		code, err := cdc.Compute(cdc.FieldsFromDocument(doc))
		if err != nil {
			return nil, err
		}
		doc.CDC = code
	}

	signed, err := signer.New(c.cred, c.qr).Sign(doc)
	if err != nil {
		return nil, err
	}

	env, err := batch.Package([]*signer.SignedDocument{signed}, doc.Environment, "")
	if err != nil {
		return nil, err
	}

	if err := c.preflight.Validate(env); err != nil {
		return nil, err
	}

	c.logger.Info("submitting batch",
		zap.String("batch_id", env.CorrelationID),
		zap.String("cdc", signed.CDC),
		zap.String("environment", string(doc.Environment)))

	resp, err := c.submitter.Send(ctx, env.Operation, env.SOAP)
	if err != nil {
		return nil, err
	}

	bs, err := c.tracker.Track(ctx, env.CorrelationID, doc.Environment, resp)
	result := &SubmitResult{
		CDC:           signed.CDC,
		QRLink:        signed.QRLink,
		CorrelationID: env.CorrelationID,
		Code:          resp.Code,
		Message:       resp.Message,
		Batch:         bs,
	}
	if err != nil {
		return result, err
	}
	result.ProtocolNumber = bs.ProtocolNumber
	return result, nil
}

// BatchStatus returns the stored record for a correlation id, or nil
// when the batch was never tracked.
func (c *Client) BatchStatus(ctx context.Context, correlationID string) (*tracker.BatchStatus, error) {
	return c.store.GetBatchStatus(ctx, correlationID)
}

// PollOnce queries the platform once for a tracked batch and persists
// the resulting transition.
func (c *Client) PollOnce(ctx context.Context, correlationID string) (*tracker.PollResult, error) {
	if err := c.ensureTransport(ctx); err != nil {
		return nil, err
	}

	bs, err := c.store.GetBatchStatus(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if bs == nil {
		return nil, fmt.Errorf("batch %s is not tracked", correlationID)
	}
	return c.tracker.PollOnce(ctx, bs)
}

// Sweep polls every pending batch of the configured environment until
// each reaches a terminal state or ctx is cancelled.
func (c *Client) Sweep(ctx context.Context) ([]*tracker.PollResult, error) {
	if err := c.ensureTransport(ctx); err != nil {
		return nil, err
	}
	return c.sweeper.Run(ctx, c.opts.Environment)
}
