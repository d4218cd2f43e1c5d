package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Receipt holds the fields printed on a payment approval receipt.
type Receipt struct {
	PaymentID    int64
	EnrollmentID int64
	StudentName  string
	StudentEmail string
	EventTitle   string
	Method       string
	Amount       string
	ApprovedAt   time.Time
	Observations string
}

// RenderReceipt produces a single page PDF confirming an approved payment.
func RenderReceipt(r Receipt) ([]byte, error) {
	if r.PaymentID == 0 {
		return nil, fmt.Errorf("receipt requires a payment id")
	}
	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetMargins(12, 15, 12)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "Comprobante de pago validado", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Pago #%d - Inscripcion #%d", r.PaymentID, r.EnrollmentID), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Estudiante", r.StudentName},
		{"Correo", r.StudentEmail},
		{"Evento", r.EventTitle},
		{"Forma de pago", r.Method},
		{"Monto", r.Amount},
		{"Fecha de aprobacion", r.ApprovedAt.Format("2006-01-02 15:04")},
	}
	if r.Observations != "" {
		rows = append(rows, [2]string{"Observaciones", r.Observations})
	}
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 8, tr(row[0]), "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 8, tr(row[1]), "1", "", false)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}
