// Package cdc computes the 44-digit control code (CDC) that identifies
// an electronic document: a 43-digit fixed-width body plus a mod-11
// check digit.
package cdc

import (
	"fmt"
	"strings"
	"time"

	"github.com/rezonia/sifen-client/internal/model"
)

// Body field widths, left to right. The sum is 43; the check digit
// brings the CDC to 44.
const (
	widthDocType         = 2
	widthRUC             = 8
	widthRUCDigit        = 1
	widthEstablishment   = 3
	widthExpeditionPoint = 3
	widthDocNumber       = 7
	widthTaxpayerType    = 1
	widthIssueDate       = 8
	widthEmissionType    = 1
	widthSecurityCode    = 9

	// BodyLength is the CDC length without the check digit.
	BodyLength = 43
	// Length is the full CDC length.
	Length = 44
)

// Fields are the constituent values of a control code
type Fields struct {
	DocType         int
	RUC             string // numeric issuer RUC, 1..8 digits
	RUCDigit        int
	Establishment   int
	ExpeditionPoint int
	DocNumber       int
	TaxpayerType    int
	IssueDate       time.Time
	EmissionType    int
	SecurityCode    string // exactly 9 digits
}

// FieldsFromDocument extracts the CDC constituents from a document
func FieldsFromDocument(d *model.Document) Fields {
	return Fields{
		DocType:         d.DocType,
		RUC:             d.Issuer.RUC,
		RUCDigit:        d.Issuer.RUCDigit,
		Establishment:   d.Establishment,
		ExpeditionPoint: d.ExpeditionPoint,
		DocNumber:       d.DocNumber,
		TaxpayerType:    d.TaxpayerType,
		IssueDate:       d.IssueDate,
		EmissionType:    d.EmissionType,
		SecurityCode:    d.SecurityCode,
	}
}

// Compute builds the 43-digit body from the fields and appends the
// mod-11 check digit. Fields that overflow their width are rejected,
// never truncated.
func Compute(f Fields) (string, error) {
	if err := checkWidth("DocType", f.DocType, widthDocType); err != nil {
		return "", err
	}
	if !isNumeric(f.RUC) || len(f.RUC) == 0 || len(f.RUC) > widthRUC {
		return "", model.ErrFormat("RUC", fmt.Sprintf("want 1..%d digits, got %q", widthRUC, f.RUC))
	}
	if f.RUCDigit < 0 || f.RUCDigit > 9 {
		return "", model.ErrFormat("RUCDigit", fmt.Sprintf("want a single digit, got %d", f.RUCDigit))
	}
	if err := checkWidth("Establishment", f.Establishment, widthEstablishment); err != nil {
		return "", err
	}
	if err := checkWidth("ExpeditionPoint", f.ExpeditionPoint, widthExpeditionPoint); err != nil {
		return "", err
	}
	if err := checkWidth("DocNumber", f.DocNumber, widthDocNumber); err != nil {
		return "", err
	}
	if f.TaxpayerType < 1 || f.TaxpayerType > 9 {
		return "", model.ErrFormat("TaxpayerType", fmt.Sprintf("want a single digit >= 1, got %d", f.TaxpayerType))
	}
	if f.IssueDate.IsZero() {
		return "", model.ErrFormat("IssueDate", "issue date not set")
	}
	if f.EmissionType < 1 || f.EmissionType > 9 {
		return "", model.ErrFormat("EmissionType", fmt.Sprintf("want a single digit >= 1, got %d", f.EmissionType))
	}
	if !isNumeric(f.SecurityCode) || len(f.SecurityCode) != widthSecurityCode {
		return "", model.ErrFormat("SecurityCode", fmt.Sprintf("want exactly %d digits", widthSecurityCode))
	}

	ruc := strings.Repeat("0", widthRUC-len(f.RUC)) + f.RUC
	body := fmt.Sprintf("%0*d%s%d%0*d%0*d%0*d%d%s%d%s",
		widthDocType, f.DocType,
		ruc,
		f.RUCDigit,
		widthEstablishment, f.Establishment,
		widthExpeditionPoint, f.ExpeditionPoint,
		widthDocNumber, f.DocNumber,
		f.TaxpayerType,
		f.IssueDate.Format("20060102"),
		f.EmissionType,
		f.SecurityCode,
	)
	if len(body) != BodyLength {
		return "", model.ErrFormat("CDC", fmt.Sprintf("body length %d, want %d", len(body), BodyLength))
	}

	return body + fmt.Sprintf("%d", CheckDigit(body)), nil
}

// Validate recomputes the check digit of a 44-digit CDC and compares it
// with the final digit. Returns the expected digit either way.
func Validate(code string) (bool, int, error) {
	if len(code) != Length {
		return false, 0, model.ErrFormat("CDC", fmt.Sprintf("want %d digits, got %d", Length, len(code)))
	}
	if !isNumeric(code) {
		return false, 0, model.ErrFormat("CDC", "non-numeric control code")
	}
	expected := CheckDigit(code[:BodyLength])
	actual := int(code[Length-1] - '0')
	return actual == expected, expected, nil
}

// Repair replaces the final digit of a 44-digit CDC with the recomputed
// check digit, leaving the body untouched.
func Repair(code string) (string, error) {
	if len(code) != Length {
		return "", model.ErrFormat("CDC", fmt.Sprintf("want %d digits, got %d", Length, len(code)))
	}
	if !isNumeric(code) {
		return "", model.ErrFormat("CDC", "non-numeric control code")
	}
	return code[:BodyLength] + fmt.Sprintf("%d", CheckDigit(code[:BodyLength])), nil
}

// CheckDigit computes the mod-11 check digit of a numeric body. Weights
// cycle 2..9 starting from the rightmost digit; 11 - (sum mod 11) maps
// 10 to 0 and 11 to 1.
func CheckDigit(body string) int {
	sum := 0
	weight := 2
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	digit := 11 - (sum % 11)
	switch digit {
	case 10:
		return 0
	case 11:
		return 1
	default:
		return digit
	}
}

// RUCCheckDigit computes the check digit of an issuer RUC with the same
// mod-11 scheme.
func RUCCheckDigit(ruc string) (int, error) {
	if !isNumeric(ruc) || len(ruc) == 0 {
		return 0, model.ErrFormat("RUC", "non-numeric RUC")
	}
	return CheckDigit(ruc), nil
}

func checkWidth(field string, value, width int) error {
	if value < 0 {
		return model.ErrFormat(field, fmt.Sprintf("negative value %d", value))
	}
	max := 1
	for i := 0; i < width; i++ {
		max *= 10
	}
	if value >= max {
		return model.ErrFormat(field, fmt.Sprintf("%d does not fit in %d digits", value, width))
	}
	return nil
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
