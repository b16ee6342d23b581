// Package tracker maps server result codes onto the batch lifecycle and
// drives status polling. A batch exists only once the platform assigned
// it a non-zero protocol number; from there it moves
// pending -> processing -> {done, requires_individual_lookup, error}
// and never leaves a terminal state.
package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/sifen-client/internal/batch"
	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/transport"
)

// Status is the lifecycle state of a submitted batch
type Status string

const (
	StatusPending                  Status = "pending"
	StatusProcessing               Status = "processing"
	StatusDone                     Status = "done"
	StatusRequiresIndividualLookup Status = "requires_individual_lookup"
	StatusError                    Status = "error"
)

// Terminal reports whether the batch must never be polled again
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusRequiresIndividualLookup, StatusError:
		return true
	}
	return false
}

// Known batch result codes
const (
	CodeBatchReceived  = "0300" // acknowledgment, batch queued
	CodeBatchInProcess = "0361" // still processing, poll again later
	CodeBatchProcessed = "0362" // finished, per-document results follow
	CodeBatchExpired   = "0364" // query window elapsed (~48h), query each CDC individually
)

// PollRetryDelays is the connection-failure schedule for status polls
var PollRetryDelays = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}

// DetermineStatus maps a poll result code to the batch state. Unknown
// codes are errors, not retries.
func DetermineStatus(code string) Status {
	switch code {
	case CodeBatchInProcess:
		return StatusProcessing
	case CodeBatchProcessed:
		return StatusDone
	case CodeBatchExpired:
		return StatusRequiresIndividualLookup
	default:
		return StatusError
	}
}

// BatchStatus is the persisted tracking record for one batch
type BatchStatus struct {
	ID             string // correlation id (dId)
	Environment    model.Environment
	ProtocolNumber string
	Status         Status
	LastCode       string
	LastMessage    string
	Attempts       int
	LastCheckedAt  time.Time
}

// Store is the persistence collaborator. Implementations must
// serialize writes per batch id; records are never deleted.
type Store interface {
	SaveBatchStatus(ctx context.Context, bs *BatchStatus) error
	LoadPendingBatches(ctx context.Context, env model.Environment) ([]*BatchStatus, error)
	UpdateBatchStatus(ctx context.Context, bs *BatchStatus) error
}

// Sender posts a SOAP request and returns the parsed response
type Sender interface {
	Send(ctx context.Context, op transport.Operation, soap []byte) (*transport.Response, error)
}

// Tracker creates and advances batch status records
type Tracker struct {
	store  Store
	sender Sender
	logger *zap.Logger
	now    func() time.Time
}

// New creates a tracker
func New(store Store, sender Sender, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		sender: sender,
		logger: logger,
		now:    time.Now,
	}
}

// Track records the submit acknowledgment. A non-zero protocol number
// creates a pending record; a zero protocol number is a terminal
// business rejection and creates nothing at all.
func (t *Tracker) Track(ctx context.Context, correlationID string, env model.Environment, resp *transport.Response) (*BatchStatus, error) {
	if !resp.Accepted() {
		t.logger.Warn("batch rejected at submission, no record created",
			zap.String("correlation_id", correlationID),
			zap.String("code", resp.Code),
			zap.String("message", resp.Message),
		)
		return nil, model.ErrBusinessRejection(resp.Code, resp.Message)
	}

	bs := &BatchStatus{
		ID:             correlationID,
		Environment:    env,
		ProtocolNumber: resp.ProtocolNumber,
		Status:         StatusPending,
		LastCode:       resp.Code,
		LastMessage:    resp.Message,
		LastCheckedAt:  t.now(),
	}
	if err := t.store.SaveBatchStatus(ctx, bs); err != nil {
		return nil, fmt.Errorf("saving batch status: %w", err)
	}

	t.logger.Info("batch accepted",
		zap.String("correlation_id", correlationID),
		zap.String("protocol_number", resp.ProtocolNumber),
	)
	return bs, nil
}

// PollResult is the outcome of one poll
type PollResult struct {
	Batch *BatchStatus
	// Documents holds per-document outcomes, present once Status is done.
	Documents []transport.DocumentResult
}

// PollOnce performs exactly one status query for the batch and persists
// the transition. Terminal batches are refused: the caller must stop
// polling them.
func (t *Tracker) PollOnce(ctx context.Context, bs *BatchStatus) (*PollResult, error) {
	if bs.Status.Terminal() {
		return nil, fmt.Errorf("batch %s is %s, polling a terminal batch is a bug", bs.ID, bs.Status)
	}

	env, err := batch.QueryEnvelope(bs.Environment, bs.ID, bs.ProtocolNumber)
	if err != nil {
		return nil, err
	}

	resp, err := t.sender.Send(ctx, env.Operation, env.SOAP)
	if err != nil {
		// Transport failure: the batch state is untouched, the sweep
		// may try again later.
		return nil, err
	}

	bs.Status = DetermineStatus(resp.Code)
	bs.LastCode = resp.Code
	bs.LastMessage = resp.Message
	bs.Attempts++
	bs.LastCheckedAt = t.now()

	if err := t.store.UpdateBatchStatus(ctx, bs); err != nil {
		return nil, fmt.Errorf("updating batch status: %w", err)
	}

	t.logger.Info("batch polled",
		zap.String("correlation_id", bs.ID),
		zap.String("code", resp.Code),
		zap.String("status", string(bs.Status)),
		zap.Int("attempts", bs.Attempts),
	)

	result := &PollResult{Batch: bs}
	if bs.Status == StatusDone {
		result.Documents = resp.Documents
	}
	return result, nil
}
