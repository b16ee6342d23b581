package model

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	money "github.com/rezonia/sifen-client/internal/decimal"
)

// Document types accepted by SIFEN
const (
	DocTypeFactura      = 1 // factura electrónica
	DocTypeAutofactura  = 4
	DocTypeNotaCredito  = 5
	DocTypeNotaDebito   = 6
	DocTypeNotaRemision = 7 // remission note, carries no totals
)

// SIFEN XML namespace shared by the DE, the batch wrapper, and every
// request/response body.
const SifenNamespace = "http://ekuatia.set.gov.py/sifen/xsd"

// Party identifies one side of the operation
type Party struct {
	RUC        string // numeric part, without the check digit
	RUCDigit   int    // check digit of the RUC
	GenericID  string // non-taxpayer document number (cédula etc.)
	Name       string
	TaxpayerID bool // true when RUC identifies a registered taxpayer
}

// LineItem is one operation line. Amounts are decimal to survive
// arithmetic, but SIFEN wires integers for Guaraní.
type LineItem struct {
	Number      int
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
	VATAmount   decimal.Decimal
}

// Calculate fills the derived amounts from quantity and unit price.
// VAT is the included 10% general rate unless already set.
func (li *LineItem) Calculate() {
	li.Amount = money.Mul(li.Quantity, li.UnitPrice)
	if li.VATAmount.IsZero() {
		li.VATAmount = money.IncludedVAT(li.Amount, money.VATRateGeneral)
	}
}

// Document is the electronic document (DE) to be signed and submitted.
// The invoice-model provider fills every field; this package only
// carries and serializes them.
type Document struct {
	DocType         int
	Establishment   int // código de establecimiento
	ExpeditionPoint int // punto de expedición
	DocNumber       int // número secuencial del documento
	TaxpayerType    int // 1 persona física, 2 persona jurídica
	EmissionType    int // 1 normal, 2 contingencia
	IssueDate       time.Time
	SecurityCode    string // 9-digit dCodSeg, generated by the issuer
	TimbradoNumber  string
	TimbradoStart   time.Time

	Issuer   Party
	Receiver Party
	Items    []LineItem

	GrandTotal decimal.Decimal // dTotGralOpe
	VATTotal   decimal.Decimal // dTotIVA

	Environment Environment

	// CDC is set by the control-code generator before signing.
	CDC string
}

// ComputeTotals fills GrandTotal and VATTotal from the line items.
// Already set totals are left alone so callers can carry figures from
// an upstream invoicing system verbatim.
func (d *Document) ComputeTotals() {
	if !d.HasTotals() {
		return
	}
	amounts := make([]decimal.Decimal, 0, len(d.Items))
	vats := make([]decimal.Decimal, 0, len(d.Items))
	for _, item := range d.Items {
		amounts = append(amounts, item.Amount)
		vats = append(vats, item.VATAmount)
	}
	if d.GrandTotal.IsZero() {
		d.GrandTotal = money.Sum(amounts)
	}
	if d.VATTotal.IsZero() {
		d.VATTotal = money.Sum(vats)
	}
}

// HasTotals reports whether this document type carries monetary totals.
// Remission notes do not; their QR totals are forced to "0".
func (d *Document) HasTotals() bool {
	return d.DocType != DocTypeNotaRemision
}

// ReceiverID returns the receiver identifier for the QR link: the RUC
// when the receiver is a registered taxpayer, else the generic document
// number, else "0".
func (d *Document) ReceiverID() string {
	if d.Receiver.TaxpayerID && d.Receiver.RUC != "" {
		return fmt.Sprintf("%s-%d", d.Receiver.RUC, d.Receiver.RUCDigit)
	}
	if d.Receiver.GenericID != "" {
		return d.Receiver.GenericID
	}
	return "0"
}

// BuildXML serializes the document as a DE element with its Id
// attribute set to the CDC. The caller signs the result inside an rDE
// root. Requires CDC to be set.
func (d *Document) BuildXML() (*etree.Document, error) {
	if d.CDC == "" {
		return nil, ErrFormat("CDC", "control code not generated")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	rde := doc.CreateElement("rDE")
	rde.CreateAttr("xmlns", SifenNamespace)
	rde.CreateElement("dVerFor").SetText("150")

	de := rde.CreateElement("DE")
	de.CreateAttr("Id", d.CDC)
	de.CreateElement("dDVId").SetText(d.CDC[len(d.CDC)-1:])
	de.CreateElement("dFecFirma").SetText(d.IssueDate.Format("2006-01-02T15:04:05"))
	de.CreateElement("dSisFact").SetText("1")

	gOpe := de.CreateElement("gOpeDE")
	gOpe.CreateElement("iTipEmi").SetText(fmt.Sprintf("%d", d.EmissionType))
	gOpe.CreateElement("dCodSeg").SetText(d.SecurityCode)

	gTimb := de.CreateElement("gTimb")
	gTimb.CreateElement("iTiDE").SetText(fmt.Sprintf("%d", d.DocType))
	gTimb.CreateElement("dNumTim").SetText(d.TimbradoNumber)
	gTimb.CreateElement("dEst").SetText(fmt.Sprintf("%03d", d.Establishment))
	gTimb.CreateElement("dPunExp").SetText(fmt.Sprintf("%03d", d.ExpeditionPoint))
	gTimb.CreateElement("dNumDoc").SetText(fmt.Sprintf("%07d", d.DocNumber))
	if !d.TimbradoStart.IsZero() {
		gTimb.CreateElement("dFeIniT").SetText(d.TimbradoStart.Format("2006-01-02"))
	}

	gDat := de.CreateElement("gDatGralOpe")
	gDat.CreateElement("dFeEmiDE").SetText(d.IssueDate.Format("2006-01-02T15:04:05"))

	gEmis := gDat.CreateElement("gEmis")
	gEmis.CreateElement("dRucEm").SetText(d.Issuer.RUC)
	gEmis.CreateElement("dDVEmi").SetText(fmt.Sprintf("%d", d.Issuer.RUCDigit))
	gEmis.CreateElement("iTipCont").SetText(fmt.Sprintf("%d", d.TaxpayerType))
	gEmis.CreateElement("dNomEmi").SetText(d.Issuer.Name)

	gRec := gDat.CreateElement("gDatRec")
	if d.Receiver.TaxpayerID {
		gRec.CreateElement("iNatRec").SetText("1")
		gRec.CreateElement("dRucRec").SetText(d.Receiver.RUC)
		gRec.CreateElement("dDVRec").SetText(fmt.Sprintf("%d", d.Receiver.RUCDigit))
	} else {
		gRec.CreateElement("iNatRec").SetText("2")
		if d.Receiver.GenericID != "" {
			gRec.CreateElement("dNumIDRec").SetText(d.Receiver.GenericID)
		}
	}
	gRec.CreateElement("dNomRec").SetText(d.Receiver.Name)

	gDtip := de.CreateElement("gDtipDE")
	for _, item := range d.Items {
		gItem := gDtip.CreateElement("gCamItem")
		gItem.CreateElement("dDesProSer").SetText(item.Description)
		gItem.CreateElement("dCantProSer").SetText(item.Quantity.String())
		gValorItem := gItem.CreateElement("gValorItem")
		gValorItem.CreateElement("dPUniProSer").SetText(item.UnitPrice.String())
		gValorItem.CreateElement("dTotOpeItem").SetText(item.Amount.String())
	}

	if d.HasTotals() {
		gTot := de.CreateElement("gTotSub")
		gTot.CreateElement("dTotGralOpe").SetText(d.GrandTotal.String())
		gTot.CreateElement("dTotIVA").SetText(d.VATTotal.String())
	}

	return doc, nil
}
