package server

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/tracker"
	"github.com/rezonia/sifen-client/internal/transport"
)

// SubmitRequest is the JSON body of POST /api/v1/invoices/submit
type SubmitRequest struct {
	DocType         int    `json:"doc_type" binding:"required"`
	Establishment   int    `json:"establishment" binding:"required"`
	ExpeditionPoint int    `json:"expedition_point" binding:"required"`
	DocNumber       int    `json:"doc_number" binding:"required"`
	TaxpayerType    int    `json:"taxpayer_type" binding:"required"`
	EmissionType    int    `json:"emission_type" binding:"required"`
	IssueDate       string `json:"issue_date" binding:"required"` // 2006-01-02T15:04:05
	SecurityCode    string `json:"security_code" binding:"required"`
	TimbradoNumber  string `json:"timbrado_number" binding:"required"`
	TimbradoStart   string `json:"timbrado_start,omitempty"` // 2006-01-02

	Issuer   PartyRequest `json:"issuer" binding:"required"`
	Receiver PartyRequest `json:"receiver" binding:"required"`

	Items []ItemRequest `json:"items" binding:"required,min=1"`

	GrandTotal decimal.Decimal `json:"grand_total"`
	VATTotal   decimal.Decimal `json:"vat_total"`
}

// PartyRequest identifies one side of the operation
type PartyRequest struct {
	RUC        string `json:"ruc,omitempty"`
	RUCDigit   int    `json:"ruc_digit,omitempty"`
	GenericID  string `json:"generic_id,omitempty"`
	Name       string `json:"name" binding:"required"`
	TaxpayerID bool   `json:"taxpayer_id"`
}

// ItemRequest is one operation line
type ItemRequest struct {
	Number      int             `json:"number"`
	Description string          `json:"description" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
	VATAmount   decimal.Decimal `json:"vat_amount"`
}

// Document converts the request into the pipeline's document model
func (r *SubmitRequest) Document() (*model.Document, error) {
	issued, err := time.Parse("2006-01-02T15:04:05", r.IssueDate)
	if err != nil {
		return nil, fmt.Errorf("issue_date: %w", err)
	}

	doc := &model.Document{
		DocType:         r.DocType,
		Establishment:   r.Establishment,
		ExpeditionPoint: r.ExpeditionPoint,
		DocNumber:       r.DocNumber,
		TaxpayerType:    r.TaxpayerType,
		EmissionType:    r.EmissionType,
		IssueDate:       issued,
		SecurityCode:    r.SecurityCode,
		TimbradoNumber:  r.TimbradoNumber,
		Issuer:          r.Issuer.party(),
		Receiver:        r.Receiver.party(),
		GrandTotal:      r.GrandTotal,
		VATTotal:        r.VATTotal,
	}

	if r.TimbradoStart != "" {
		start, err := time.Parse("2006-01-02", r.TimbradoStart)
		if err != nil {
			return nil, fmt.Errorf("timbrado_start: %w", err)
		}
		doc.TimbradoStart = start
	}

	for i, item := range r.Items {
		li := model.LineItem{
			Number:      item.Number,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      item.Amount,
			VATAmount:   item.VATAmount,
		}
		if li.Number == 0 {
			li.Number = i + 1
		}
		if li.Amount.IsZero() {
			li.Calculate()
		}
		doc.Items = append(doc.Items, li)
	}
	doc.ComputeTotals()

	return doc, nil
}

func (p PartyRequest) party() model.Party {
	return model.Party{
		RUC:        p.RUC,
		RUCDigit:   p.RUCDigit,
		GenericID:  p.GenericID,
		Name:       p.Name,
		TaxpayerID: p.TaxpayerID,
	}
}

// SubmitResponse is the response for the submit endpoint
type SubmitResponse struct {
	CDC            string `json:"cdc"`
	QRLink         string `json:"qr_link"`
	CorrelationID  string `json:"correlation_id"`
	ProtocolNumber string `json:"protocol_number"`
	Code           string `json:"code"`
	Message        string `json:"message"`
	Status         string `json:"status"`
}

// BatchResponse is the response for the batch status endpoint
type BatchResponse struct {
	CorrelationID  string             `json:"correlation_id"`
	Environment    string             `json:"environment"`
	ProtocolNumber string             `json:"protocol_number"`
	Status         string             `json:"status"`
	LastCode       string             `json:"last_code"`
	LastMessage    string             `json:"last_message"`
	Attempts       int                `json:"attempts"`
	LastCheckedAt  time.Time          `json:"last_checked_at"`
	Documents      []DocumentResponse `json:"documents,omitempty"`
}

// DocumentResponse is one per-document outcome in a completed batch
type DocumentResponse struct {
	CDC     string `json:"cdc"`
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind,omitempty"`
	Field         string `json:"field,omitempty"`
	Details       string `json:"details,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func batchResponse(bs *tracker.BatchStatus, docs []transport.DocumentResult) BatchResponse {
	resp := BatchResponse{
		CorrelationID:  bs.ID,
		Environment:    string(bs.Environment),
		ProtocolNumber: bs.ProtocolNumber,
		Status:         string(bs.Status),
		LastCode:       bs.LastCode,
		LastMessage:    bs.LastMessage,
		Attempts:       bs.Attempts,
		LastCheckedAt:  bs.LastCheckedAt,
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, DocumentResponse{
			CDC:     d.CDC,
			Status:  d.Status,
			Code:    d.Code,
			Message: d.Message,
		})
	}
	return resp
}
