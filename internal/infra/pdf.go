package infra

// pdf.go renders kitchen tickets (comande) and pre-bills (preconti) as 80mm
// thermal-roll PDFs with go-pdf/fpdf. The page height grows with the number
// of lines so the driver never cuts a ticket in two.

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
)

const (
	rollWidth   = 80.0
	rollMargin  = 4.0
	lineHeight  = 5.0
	headerLines = 8
)

// ComandaTicket is everything printed on a kitchen ticket.
type ComandaTicket struct {
	Restaurant    string
	TableNumber   int
	CommandNumber int
	Covers        int
	Notes         string
	CreatedAt     time.Time
	Items         []model.OrderItem
}

// PrecontoTicket is everything printed on a pre-bill.
type PrecontoTicket struct {
	Restaurant  string
	TableNumber int
	Covers      int
	OpenedAt    time.Time
	Items       []model.OrderItem
	Total       decimal.Decimal
}

func newRoll(lines int) (*fpdf.Fpdf, func(string) string) {
	h := float64(headerLines+lines)*lineHeight + 2*rollMargin + 10
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: rollWidth, Ht: h},
	})
	pdf.SetMargins(rollMargin, rollMargin, rollMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	return pdf, pdf.UnicodeTranslatorFromDescriptor("")
}

func separator(pdf *fpdf.Fpdf) {
	y := pdf.GetY() + 1
	pdf.Line(rollMargin, y, rollWidth-rollMargin, y)
	pdf.Ln(2)
}

func output(pdf *fpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: render: %w", err)
	}
	return buf.Bytes(), nil
}

// selectionsLine joins flavors and supplements in the order they were chosen.
func selectionsLine(sel []model.Selection) string {
	if len(sel) == 0 {
		return ""
	}
	names := make([]string, 0, len(sel))
	for _, s := range sel {
		names = append(names, s.Name)
	}
	return strings.Join(names, ", ")
}

// RenderComanda renders a kitchen ticket. Prices are left off: the kitchen
// only needs what to prepare.
func RenderComanda(t ComandaTicket) ([]byte, error) {
	lines := 0
	for _, it := range t.Items {
		lines += 2
		if it.CustomNote != "" {
			lines++
		}
	}
	pdf, tr := newRoll(lines)
	contentW := rollWidth - 2*rollMargin

	// ── Header ───────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(contentW, 7, tr(t.Restaurant), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(contentW, 8, tr(fmt.Sprintf("TAVOLO %d", t.TableNumber)), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(contentW/2, lineHeight, tr(fmt.Sprintf("Comanda n° %d", t.CommandNumber)), "", 0, "L", false, 0, "")
	pdf.CellFormat(contentW/2, lineHeight, t.CreatedAt.Local().Format("02/01 15:04"), "", 1, "R", false, 0, "")
	if t.Covers > 0 {
		pdf.CellFormat(contentW, lineHeight, tr(fmt.Sprintf("Coperti: %d", t.Covers)), "", 1, "L", false, 0, "")
	}
	separator(pdf)

	// ── Items ────────────────────────────────────────────────────────────────
	for _, it := range t.Items {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(12, 6, fmt.Sprintf("%dx", it.Quantity), "", 0, "L", false, 0, "")
		pdf.CellFormat(contentW-12, 6, tr(it.ProductName), "", 1, "L", false, 0, "")
		if s := selectionsLine(it.Selections); s != "" {
			pdf.SetFont("Helvetica", "", 9)
			pdf.SetX(rollMargin + 12)
			pdf.MultiCell(contentW-12, 4, tr(s), "", "L", false)
		}
		if it.CustomNote != "" {
			pdf.SetFont("Helvetica", "I", 9)
			pdf.SetX(rollMargin + 12)
			pdf.MultiCell(contentW-12, 4, tr("» "+it.CustomNote), "", "L", false)
		}
	}

	if t.Notes != "" {
		separator(pdf)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(contentW, 4, tr(t.Notes), "", "L", false)
	}
	return output(pdf)
}

// RenderPreconto renders the pre-bill handed to the customer before payment.
func RenderPreconto(t PrecontoTicket) ([]byte, error) {
	pdf, tr := newRoll(len(t.Items)*2 + 4)
	contentW := rollWidth - 2*rollMargin
	col1 := contentW * 0.58
	col2 := contentW * 0.12
	col3 := contentW * 0.30

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(contentW, 7, tr(t.Restaurant), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(contentW, lineHeight, "PRECONTO", "", 1, "C", false, 0, "")
	pdf.CellFormat(contentW/2, lineHeight, tr(fmt.Sprintf("Tavolo %d", t.TableNumber)), "", 0, "L", false, 0, "")
	pdf.CellFormat(contentW/2, lineHeight, time.Now().Format("02/01/2006 15:04"), "", 1, "R", false, 0, "")
	separator(pdf)

	pdf.SetFont("Helvetica", "B", 8)
	pdf.CellFormat(col1, lineHeight, "Prodotto", "B", 0, "L", false, 0, "")
	pdf.CellFormat(col2, lineHeight, "Qt", "B", 0, "C", false, 0, "")
	pdf.CellFormat(col3, lineHeight, "Importo", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 8)
	for _, it := range t.Items {
		name := it.ProductName
		if r := []rune(name); len(r) > 26 {
			name = string(r[:25]) + "."
		}
		pdf.CellFormat(col1, lineHeight, tr(name), "", 0, "L", false, 0, "")
		pdf.CellFormat(col2, lineHeight, fmt.Sprintf("%d", it.Quantity), "", 0, "C", false, 0, "")
		pdf.CellFormat(col3, lineHeight, tr("€ "+it.TotalPrice.StringFixed(2)), "", 1, "R", false, 0, "")
		if s := selectionsLine(it.Selections); s != "" {
			pdf.SetFont("Helvetica", "I", 7)
			pdf.CellFormat(contentW, 4, tr("  "+s), "", 1, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 8)
		}
	}
	separator(pdf)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(col1+col2, 7, "TOTALE", "", 0, "L", false, 0, "")
	pdf.CellFormat(col3, 7, tr("€ "+t.Total.StringFixed(2)), "", 1, "R", false, 0, "")
	if t.Covers > 0 {
		pdf.SetFont("Helvetica", "", 8)
		pdf.CellFormat(contentW, lineHeight, tr(fmt.Sprintf("Coperti: %d", t.Covers)), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "I", 7)
	pdf.CellFormat(contentW, 4, tr("Non costituisce documento fiscale"), "", 1, "C", false, 0, "")
	return output(pdf)
}
