// Package transport sends SOAP 1.2 requests to the SIFEN web services
// over mTLS and parses responses without caring about namespace
// prefixes. Connection failures retry on a short fixed schedule and
// HTTP 5xx on a bounded exponential one; application result codes are
// never retried here.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/rezonia/sifen-client/internal/credential"
	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/xmlutil"
)

// Retry schedule for connection-class failures: two retries after the
// initial attempt, fixed delays.
var connectionRetryDelays = []time.Duration{400 * time.Millisecond, 800 * time.Millisecond}

// Retry schedule for HTTP 5xx: bounded exponential, three attempts total.
var serverErrorDelays = []time.Duration{500 * time.Millisecond, 1 * time.Second}

// Config holds the transport parameters. Connect and read timeouts are
// distinct and both mandatory; zero values get defaults.
type Config struct {
	Credential     *credential.Credential
	Environment    model.Environment
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Logger         *zap.Logger

	// EndpointOverride redirects an operation to a fixed URL. Used by
	// tests and by deployments fronted by a local proxy.
	EndpointOverride map[string]string // operation name -> URL
}

// DocumentResult is one per-document outcome inside a completed batch
type DocumentResult struct {
	CDC     string
	Status  string
	Code    string
	Message string
}

// Response is the parsed application-level reply. It is returned even
// when the platform rejected the request, so callers can distinguish
// "wire OK, server said no" from a transport failure.
type Response struct {
	Code           string
	Message        string
	ProtocolNumber string
	ProcessingType string
	Documents      []DocumentResult
	HTTPStatus     int
	Raw            []byte
}

// Accepted reports whether the submit acknowledgment carries a usable
// protocol number.
func (r *Response) Accepted() bool {
	return r.ProtocolNumber != "" && r.ProtocolNumber != "0"
}

// Client posts SOAP envelopes over mTLS
type Client struct {
	cfg        Config
	http       *http.Client
	logger     *zap.Logger
	sleep      func(context.Context, time.Duration) error
	connDelays []time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithSleeper replaces the retry delay function. Tests use it to
// observe the schedule without waiting it out.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithConnectionRetryDelays replaces the fixed schedule used after
// connection-class failures. Submission keeps the default 0.4s/0.8s;
// the status poller runs a 0.5s/1.5s/3.0s schedule.
func WithConnectionRetryDelays(delays []time.Duration) Option {
	return func(c *Client) {
		c.connDelays = delays
	}
}

// NewClient creates a transport client with the credential's TLS
// certificate wired into the handshake.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 45 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.Credential != nil {
		tlsConfig.Certificates = []tls.Certificate{cfg.Credential.TLSCertificate}
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}

	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		logger:     cfg.Logger,
		sleep:      sleepContext,
		connDelays: connectionRetryDelays,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts the SOAP request for the operation and returns the parsed
// response. Only connection-class failures and HTTP 5xx are retried,
// on their documented schedules; an in-flight request is never aborted
// mid-attempt, it completes or times out on its own.
func (c *Client) Send(ctx context.Context, op Operation, soap []byte) (*Response, error) {
	endpoint := c.endpoint(op)
	if endpoint == "" {
		return nil, model.ErrTransport(fmt.Sprintf("no endpoint for operation %s in %s", op.Name, c.cfg.Environment), false, nil)
	}

	var connRetries, serverRetries int
	for {
		resp, err := c.post(ctx, endpoint, op, soap)
		if err == nil && resp.HTTPStatus == http.StatusOK {
			return resp, nil
		}

		switch {
		case err != nil && isConnectionError(err):
			if connRetries >= len(c.connDelays) {
				// Still retry-eligible: a later sweep may reach the
				// server even though this schedule is spent.
				return nil, model.ErrTransport("connection failed after retries", true, err)
			}
			delay := c.connDelays[connRetries]
			connRetries++
			c.logger.Warn("connection failure, retrying",
				zap.String("operation", op.Name),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if serr := c.sleep(ctx, delay); serr != nil {
				return nil, model.ErrTransport("cancelled during retry backoff", false, serr)
			}

		case err != nil:
			return nil, model.ErrTransport("request failed", false, err)

		case resp.HTTPStatus >= 500:
			if serverRetries >= len(serverErrorDelays) {
				return nil, model.ErrTransport(fmt.Sprintf("server error %d after retries", resp.HTTPStatus), true, nil)
			}
			delay := serverErrorDelays[serverRetries]
			serverRetries++
			c.logger.Warn("server error, retrying",
				zap.String("operation", op.Name),
				zap.Int("status", resp.HTTPStatus),
				zap.Duration("delay", delay),
			)
			if serr := c.sleep(ctx, delay); serr != nil {
				return nil, model.ErrTransport("cancelled during retry backoff", false, serr)
			}

		default:
			return nil, model.ErrTransport(fmt.Sprintf("unexpected HTTP status %d", resp.HTTPStatus), false, nil)
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, op Operation, soap []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(soap))
	if err != nil {
		return nil, err
	}
	// SOAP 1.2: the action rides in the Content-Type parameter, there
	// is no SOAPAction header.
	req.Header.Set("Content-Type", fmt.Sprintf(`application/soap+xml; charset=utf-8; action=%q`, op.Action))

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	resp := &Response{HTTPStatus: httpResp.StatusCode, Raw: body}
	if httpResp.StatusCode == http.StatusOK {
		if err := resp.parse(body); err != nil {
			return nil, model.ErrTransport("unparseable response body", false, err)
		}
	}
	return resp, nil
}

// parse extracts the result fields by element local name, ignoring
// whatever prefixes the server chose.
func (r *Response) parse(body []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return err
	}
	root := doc.Root()
	if root == nil {
		return errors.New("empty response document")
	}

	// Submit acknowledgments use dCodRes/dMsgRes; batch queries use
	// dCodResLot/dMsgResLot at the top level.
	if code := xmlutil.TextByLocalName(root, "dCodResLot"); code != "" {
		r.Code = code
		r.Message = xmlutil.TextByLocalName(root, "dMsgResLot")
	} else {
		r.Code = xmlutil.TextByLocalName(root, "dCodRes")
		r.Message = xmlutil.TextByLocalName(root, "dMsgRes")
	}
	r.ProtocolNumber = xmlutil.TextByLocalName(root, "dProtConsLote")
	r.ProcessingType = xmlutil.TextByLocalName(root, "dTpoProces")

	for _, entry := range xmlutil.FindAllByLocalName(root, "gResProcLote") {
		r.Documents = append(r.Documents, DocumentResult{
			CDC:     xmlutil.TextByLocalName(entry, "id"),
			Status:  xmlutil.TextByLocalName(entry, "dEstRes"),
			Code:    xmlutil.TextByLocalName(entry, "dCodRes"),
			Message: xmlutil.TextByLocalName(entry, "dMsgRes"),
		})
	}
	return nil
}

func (c *Client) endpoint(op Operation) string {
	if url, ok := c.cfg.EndpointOverride[op.Name]; ok {
		return url
	}
	return op.Endpoint(c.cfg.Environment)
}

// isConnectionError classifies failures eligible for the short fixed
// retry schedule: resets, refusals, and timeouts. Context cancellation
// is the caller's decision and never retried.
func isConnectionError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
