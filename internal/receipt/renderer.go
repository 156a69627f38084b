package receipt

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/curryleaf/api/internal/domain"
)

const (
	pageWidth   = 80.0
	pageHeight  = 220.0
	margin      = 6.0
	bodyWidth   = pageWidth - 2*margin
	defaultNote = "Thank you for your order!"
	dateLayout  = "2006-01-02"
)

// StoreIdentity is the display identity printed on the receipt header.
type StoreIdentity struct {
	Name    string
	Address string
	Phone   string
	Email   string
}

// Renderer produces compact printable receipt documents. Rendering is a pure
// transform over the order value: no network, no store access, and
// byte-identical output for identical input.
type Renderer struct {
	identity StoreIdentity
	note     string
}

// NewRenderer constructs a Renderer with the given store identity.
func NewRenderer(identity StoreIdentity) *Renderer {
	return &Renderer{
		identity: identity,
		note:     defaultNote,
	}
}

// Render lays out the receipt PDF for the given order.
func (r *Renderer) Render(order domain.NormalizedOrder) ([]byte, error) {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: pageWidth, Ht: pageHeight},
	})

	// A fixed creation date keeps the output deterministic for a given order.
	stamp := creationStamp(order.Date)
	pdf.SetCreationDate(stamp)
	pdf.SetModificationDate(stamp)

	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.AddPage()

	r.renderHeader(pdf)
	r.renderMeta(pdf, order)
	r.renderItems(pdf, order)
	r.renderTotals(pdf, order)
	r.renderFooter(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("receipt: render order %s: %w", order.ID, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) renderHeader(pdf *fpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(bodyWidth, 6, r.identity.Name, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 8)
	for _, line := range []string{r.identity.Address, r.identity.Phone, r.identity.Email} {
		if strings.TrimSpace(line) == "" {
			continue
		}
		pdf.CellFormat(bodyWidth, 4, line, "", 1, "C", false, 0, "")
	}
	r.divider(pdf)
}

func (r *Renderer) renderMeta(pdf *fpdf.Fpdf, order domain.NormalizedOrder) {
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(bodyWidth, 4, "Order: "+order.ID, "", 1, "L", false, 0, "")
	if order.Date != "" {
		pdf.CellFormat(bodyWidth, 4, "Date: "+order.Date, "", 1, "L", false, 0, "")
	}
	if name := strings.TrimSpace(order.Customer.Name); name != "" {
		pdf.CellFormat(bodyWidth, 4, "Customer: "+name, "", 1, "L", false, 0, "")
	}
	if phone := strings.TrimSpace(order.Customer.Phone); phone != "" {
		pdf.CellFormat(bodyWidth, 4, "Phone: "+phone, "", 1, "L", false, 0, "")
	}
	r.divider(pdf)
}

func (r *Renderer) renderItems(pdf *fpdf.Fpdf, order domain.NormalizedOrder) {
	const amountWidth = 20.0

	pdf.SetFont("Helvetica", "", 8)
	for _, item := range order.Items {
		pdf.SetFont("Helvetica", "B", 8)
		pdf.CellFormat(bodyWidth, 4, item.Name, "", 1, "L", false, 0, "")

		pdf.SetFont("Helvetica", "", 8)
		quantity := fmt.Sprintf("%d x %s", item.Qty, formatAmount(item.UnitPrice))
		pdf.CellFormat(bodyWidth-amountWidth, 4, quantity, "", 0, "L", false, 0, "")
		pdf.CellFormat(amountWidth, 4, formatAmount(item.NormalizeTotal()), "", 1, "R", false, 0, "")
	}
	r.divider(pdf)
}

func (r *Renderer) renderTotals(pdf *fpdf.Fpdf, order domain.NormalizedOrder) {
	const labelWidth = bodyWidth / 2

	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(labelWidth, 4, "Subtotal", "", 0, "L", false, 0, "")
	pdf.CellFormat(bodyWidth-labelWidth, 4, formatAmount(order.Subtotal()), "", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "B", 10)
	label := "Total Paid"
	if order.Currency != "" {
		label = "Total Paid (" + order.Currency + ")"
	}
	pdf.CellFormat(labelWidth+10, 5, label, "", 0, "L", false, 0, "")
	pdf.CellFormat(bodyWidth-labelWidth-10, 5, formatAmount(order.TotalPaid()), "", 1, "R", false, 0, "")
	r.divider(pdf)
}

func (r *Renderer) renderFooter(pdf *fpdf.Fpdf) {
	pdf.SetFont("Helvetica", "I", 8)
	pdf.CellFormat(bodyWidth, 5, r.note, "", 1, "C", false, 0, "")
}

func (r *Renderer) divider(pdf *fpdf.Fpdf) {
	pdf.Ln(1)
	x, y := pdf.GetXY()
	pdf.Line(x, y, x+bodyWidth, y)
	pdf.Ln(2)
}

// creationStamp derives the embedded PDF timestamp from the order date so
// repeated renders of an unmodified order are byte-identical.
func creationStamp(date string) time.Time {
	if parsed, err := time.Parse(dateLayout, strings.TrimSpace(date)); err == nil {
		return parsed.UTC()
	}
	return time.Unix(0, 0).UTC()
}

// formatAmount renders a major-unit amount with thousands separators.
func formatAmount(amount int64) string {
	digits := strconv.FormatInt(amount, 10)
	negative := strings.HasPrefix(digits, "-")
	if negative {
		digits = digits[1:]
	}

	var b strings.Builder
	for i, ch := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}
