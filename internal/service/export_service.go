package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/eventos-api/internal/models"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
	"github.com/noah-isme/eventos-api/pkg/export"
)

type paymentReportSource interface {
	ListForReport(ctx context.Context, filter models.PaymentReportFilter) ([]models.PaymentDetail, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportResult is a rendered report ready to be streamed.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders payment reports.
type ExportService struct {
	payments paymentReportSource
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
	now      func() time.Time
}

var paymentReportHeaders = []string{"Pago", "Inscripcion", "Estudiante", "Correo", "Evento", "Forma de pago", "Monto", "Estado", "Fecha de pago", "Fecha de aprobacion"}

// NewExportService constructs an ExportService.
func NewExportService(payments paymentReportSource, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{payments: payments, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// PaymentReport renders the payments matching filter in the requested format.
func (s *ExportService) PaymentReport(ctx context.Context, filter models.PaymentReportFilter, format models.ReportFormat) (*ExportResult, error) {
	if format == "" {
		format = models.ReportFormatCSV
	}
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "formato must be csv or pdf")
	}
	if filter.Status != nil {
		switch *filter.Status {
		case models.PaymentStatusPending, models.PaymentStatusValidated, models.PaymentStatusRejected, models.PaymentStatusInvalid:
		default:
			return nil, appErrors.ErrInvalidStatus
		}
	}

	rows, err := s.payments.ListForReport(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payments")
	}
	dataset := buildPaymentDataset(rows)

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv; charset=utf-8"
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, reportTitle(filter))
		contentType = "application/pdf"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}

	s.logger.Info("payment report generated", zap.String("formato", string(format)), zap.Int("rows", len(rows)))
	return &ExportResult{
		Filename:    fmt.Sprintf("pagos_%s.%s", s.now().UTC().Format("20060102_150405"), format),
		ContentType: contentType,
		Data:        payload,
	}, nil
}

func buildPaymentDataset(rows []models.PaymentDetail) export.Dataset {
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"Pago":                strconv.FormatInt(row.ID, 10),
			"Inscripcion":         strconv.FormatInt(row.EnrollmentID, 10),
			"Estudiante":          row.StudentName,
			"Correo":              row.StudentEmail,
			"Evento":              row.EventTitle,
			"Forma de pago":       row.Method,
			"Monto":               row.Amount.StringFixed(2),
			"Estado":              string(row.Status),
			"Fecha de pago":       formatReportTime(&row.PaidAt),
			"Fecha de aprobacion": formatReportTime(row.ApprovedAt),
		})
	}
	return export.Dataset{Headers: paymentReportHeaders, Rows: dataRows}
}

func reportTitle(filter models.PaymentReportFilter) string {
	if filter.Status == nil {
		return "Reporte de pagos"
	}
	return fmt.Sprintf("Reporte de pagos (%s)", *filter.Status)
}

func formatReportTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}
