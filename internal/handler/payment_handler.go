package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/eventos-api/internal/models"
	"github.com/noah-isme/eventos-api/internal/service"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
	"github.com/noah-isme/eventos-api/pkg/response"
)

// multipartOverhead is the allowance for form fields on top of the receipt itself.
const multipartOverhead = 1 << 20

type paymentService interface {
	CreateManual(ctx context.Context, actor models.Actor, req models.ManualPaymentRequest, receipt io.Reader) (*models.PaymentCreated, error)
	CreatePayPal(ctx context.Context, actor models.Actor, req models.PayPalPaymentRequest) (*models.PaymentCreated, error)
	SetStatus(ctx context.Context, actor models.Actor, paymentID int64, req models.UpdatePaymentStatusRequest) (*models.PaymentStatusChange, error)
	ListByEnrollment(ctx context.Context, actor models.Actor, enrollmentID int64) ([]models.Payment, error)
	ListPending(ctx context.Context) ([]models.PaymentDetail, error)
	ReceiptURL(ctx context.Context, actor models.Actor, paymentID int64) (*models.ReceiptLink, error)
	OpenReceipt(ctx context.Context, token string) (*service.ReceiptDownload, error)
}

type paymentReporter interface {
	PaymentReport(ctx context.Context, filter models.PaymentReportFilter, format models.ReportFormat) (*service.ExportResult, error)
}

// PaymentHandler exposes payment registration, review and receipt endpoints.
type PaymentHandler struct {
	service   paymentService
	reports   paymentReporter
	maxUpload int64
}

// NewPaymentHandler constructs the handler. maxUpload bounds the multipart body.
func NewPaymentHandler(svc paymentService, reports paymentReporter, maxUpload int64) *PaymentHandler {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &PaymentHandler{service: svc, reports: reports, maxUpload: maxUpload}
}

// CreateManual godoc
// @Summary Register a transfer, deposit or cash payment
// @Tags Payments
// @Accept multipart/form-data
// @Produce json
// @Param inscripcionId formData int true "Enrollment ID"
// @Param formaPago formData string true "Payment method code"
// @Param monto formData string true "Amount"
// @Param comprobante formData file false "Receipt (PDF, JPEG or PNG)"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /pagos [post]
func (h *PaymentHandler) CreateManual(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)

	var req models.ManualPaymentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment form"))
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(c.PostForm("monto")))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "monto must be a decimal number"))
		return
	}
	req.Amount = amount

	var receipt io.Reader
	header, err := c.FormFile("comprobante")
	switch {
	case err == nil:
		file, openErr := header.Open()
		if openErr != nil {
			response.Error(c, appErrors.Wrap(openErr, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable comprobante"))
			return
		}
		defer file.Close()
		receipt = file
	case errors.Is(err, http.ErrMissingFile):
	default:
		response.Error(c, formFileError(err))
		return
	}

	created, err := h.service.CreateManual(c.Request.Context(), actor, req, receipt)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// CreatePayPal godoc
// @Summary Record a captured PayPal order
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body models.PayPalPaymentRequest true "PayPal payment"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /pagos/paypal [post]
func (h *PaymentHandler) CreatePayPal(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req models.PayPalPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	created, err := h.service.CreatePayPal(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// ListByEnrollment godoc
// @Summary Payments of an enrollment
// @Tags Payments
// @Produce json
// @Param inscripcionId path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /pagos/inscripcion/{inscripcionId} [get]
func (h *PaymentHandler) ListByEnrollment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	enrollmentID, err := pathID(c, "inscripcionId")
	if err != nil {
		response.Error(c, err)
		return
	}
	payments, err := h.service.ListByEnrollment(c.Request.Context(), actor, enrollmentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}

// ListPending godoc
// @Summary Pending payments awaiting review
// @Tags Payments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /pagos/pendientes [get]
func (h *PaymentHandler) ListPending(c *gin.Context) {
	payments, err := h.service.ListPending(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}

// SetStatus godoc
// @Summary Validate, reject or invalidate a pending payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param pagoId path int true "Payment ID"
// @Param payload body models.UpdatePaymentStatusRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /pagos/{pagoId}/estado [put]
func (h *PaymentHandler) SetStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	paymentID, err := pathID(c, "pagoId")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.UpdatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.Status = models.ParsePaymentStatus(string(req.Status))
	change, err := h.service.SetStatus(c.Request.Context(), actor, paymentID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, change, nil)
}

// ReceiptURL godoc
// @Summary Signed download link for a payment receipt
// @Tags Payments
// @Produce json
// @Param pagoId path int true "Payment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /pagos/{pagoId}/comprobante [get]
func (h *PaymentHandler) ReceiptURL(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	paymentID, err := pathID(c, "pagoId")
	if err != nil {
		response.Error(c, err)
		return
	}
	link, err := h.service.ReceiptURL(c.Request.Context(), actor, paymentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// DownloadReceipt godoc
// @Summary Download a receipt with a signed token
// @Tags Payments
// @Produce application/octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /pagos/comprobantes/descargar [get]
func (h *PaymentHandler) DownloadReceipt(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	download, err := h.service.OpenReceipt(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read receipt"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), download.ContentType, download.File, map[string]string{
		"Content-Disposition": `attachment; filename="` + download.Filename + `"`,
	})
}

// Report godoc
// @Summary Export payments as CSV or PDF
// @Tags Payments
// @Produce text/csv
// @Produce application/pdf
// @Param estado query string false "PEN, VAL, RECH or INV"
// @Param formato query string false "csv (default) or pdf"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /pagos/reporte [get]
func (h *PaymentHandler) Report(c *gin.Context) {
	var filter models.PaymentReportFilter
	if status := models.ParsePaymentStatus(c.Query("estado")); status != "" {
		filter.Status = &status
	}
	format := models.ReportFormat(strings.ToLower(strings.TrimSpace(c.Query("formato"))))

	result, err := h.reports.PaymentReport(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, result.Filename, result.ContentType, result.Data)
}

func formFileError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return appErrors.Clone(appErrors.ErrValidation, "comprobante exceeds the maximum size")
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid comprobante upload")
}
