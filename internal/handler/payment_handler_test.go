package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/eventos-api/internal/models"
	"github.com/noah-isme/eventos-api/internal/service"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
	"github.com/noah-isme/eventos-api/pkg/response"
)

type paymentServiceMock struct {
	created   *models.PaymentCreated
	createErr error
	statusErr error
	download  *service.ReceiptDownload

	lastManual  models.ManualPaymentRequest
	lastReceipt []byte
	hadReceipt  bool
	lastStatus  models.UpdatePaymentStatusRequest
	lastPayment int64
}

func (m *paymentServiceMock) CreateManual(ctx context.Context, actor models.Actor, req models.ManualPaymentRequest, receipt io.Reader) (*models.PaymentCreated, error) {
	m.lastManual = req
	if receipt != nil {
		m.hadReceipt = true
		m.lastReceipt, _ = io.ReadAll(receipt)
	}
	return m.created, m.createErr
}

func (m *paymentServiceMock) CreatePayPal(ctx context.Context, actor models.Actor, req models.PayPalPaymentRequest) (*models.PaymentCreated, error) {
	return m.created, m.createErr
}

func (m *paymentServiceMock) SetStatus(ctx context.Context, actor models.Actor, paymentID int64, req models.UpdatePaymentStatusRequest) (*models.PaymentStatusChange, error) {
	m.lastPayment, m.lastStatus = paymentID, req
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return &models.PaymentStatusChange{PaymentID: paymentID, Status: req.Status}, nil
}

func (m *paymentServiceMock) ListByEnrollment(ctx context.Context, actor models.Actor, enrollmentID int64) ([]models.Payment, error) {
	return []models.Payment{}, nil
}

func (m *paymentServiceMock) ListPending(ctx context.Context) ([]models.PaymentDetail, error) {
	return []models.PaymentDetail{}, nil
}

func (m *paymentServiceMock) ReceiptURL(ctx context.Context, actor models.Actor, paymentID int64) (*models.ReceiptLink, error) {
	return &models.ReceiptLink{URL: "/api/pagos/comprobantes/descargar?token=abc"}, nil
}

func (m *paymentServiceMock) OpenReceipt(ctx context.Context, token string) (*service.ReceiptDownload, error) {
	if token != "abc" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}
	return m.download, nil
}

type reporterMock struct {
	filter models.PaymentReportFilter
	format models.ReportFormat
	err    error
}

func (m *reporterMock) PaymentReport(ctx context.Context, filter models.PaymentReportFilter, format models.ReportFormat) (*service.ExportResult, error) {
	m.filter, m.format = filter, format
	if m.err != nil {
		return nil, m.err
	}
	return &service.ExportResult{Filename: "pagos.csv", ContentType: "text/csv; charset=utf-8", Data: []byte("Pago\n")}, nil
}

func multipartPayment(t *testing.T, fields map[string]string, receipt []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if receipt != nil {
		part, err := writer.CreateFormFile("comprobante", "recibo.pdf")
		require.NoError(t, err)
		_, err = part.Write(receipt)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func multipartContext(body *bytes.Buffer, contentType string) (*gin.Context, *httptest.ResponseRecorder) {
	c, w := newGinContext(http.MethodPost, "/api/pagos", body.Bytes())
	c.Request.Header.Set("Content-Type", contentType)
	return c, w
}

func TestPaymentHandlerCreateManualWithReceipt(t *testing.T) {
	mock := &paymentServiceMock{created: &models.PaymentCreated{PaymentID: 21, Status: models.PaymentStatusPending}}
	h := NewPaymentHandler(mock, &reporterMock{}, 1<<20)

	body, contentType := multipartPayment(t, map[string]string{"inscripcionId": "11", "formaPago": "TRANSFER", "monto": "50.00"}, []byte("%PDF-1.4 recibo"))
	c, w := multipartContext(body, contentType)
	withSession(c, 7, models.RoleStudent)

	h.CreateManual(c)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, int64(11), mock.lastManual.EnrollmentID)
	assert.Equal(t, "TRANSFER", mock.lastManual.Method)
	assert.Equal(t, "50", mock.lastManual.Amount.String())
	assert.True(t, mock.hadReceipt)
	assert.Equal(t, "%PDF-1.4 recibo", string(mock.lastReceipt))
	assert.JSONEq(t, `{"success":true,"data":{"pagoId":21,"estado":"PEN"}}`, w.Body.String())
}

func TestPaymentHandlerCreateManualWithoutReceipt(t *testing.T) {
	mock := &paymentServiceMock{created: &models.PaymentCreated{PaymentID: 22, Status: models.PaymentStatusPending}}
	h := NewPaymentHandler(mock, &reporterMock{}, 1<<20)

	body, contentType := multipartPayment(t, map[string]string{"inscripcionId": "11", "formaPago": "EFECTIVO", "monto": "50"}, nil)
	c, w := multipartContext(body, contentType)
	withSession(c, 7, models.RoleStudent)

	h.CreateManual(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.False(t, mock.hadReceipt)
}

func TestPaymentHandlerCreateManualRejectsBadAmount(t *testing.T) {
	mock := &paymentServiceMock{}
	h := NewPaymentHandler(mock, &reporterMock{}, 1<<20)

	body, contentType := multipartPayment(t, map[string]string{"inscripcionId": "11", "formaPago": "TRANSFER", "monto": "cincuenta"}, nil)
	c, w := multipartContext(body, contentType)
	withSession(c, 7, models.RoleStudent)

	h.CreateManual(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, mock.lastManual.EnrollmentID)
}

func TestPaymentHandlerSetStatus(t *testing.T) {
	mock := &paymentServiceMock{}
	h := NewPaymentHandler(mock, &reporterMock{}, 0)

	c, w := newGinContext(http.MethodPut, "/api/pagos/21/estado", []byte(`{"estado":"VAL","observaciones":"ok"}`))
	c.Params = gin.Params{{Key: "pagoId", Value: "21"}}
	withSession(c, 1, models.RoleAdmin)
	h.SetStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(21), mock.lastPayment)
	assert.Equal(t, models.PaymentStatusValidated, mock.lastStatus.Status)

	mock.statusErr = appErrors.ErrPaymentFinalized
	c, w = newGinContext(http.MethodPut, "/api/pagos/21/estado", []byte(`{"estado":"RECH"}`))
	c.Params = gin.Params{{Key: "pagoId", Value: "21"}}
	withSession(c, 1, models.RoleAdmin)
	h.SetStatus(c)

	require.Equal(t, http.StatusConflict, w.Code)
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, appErrors.ErrPaymentFinalized.Code, env.Code)
}

func TestPaymentHandlerSetStatusNormalizesEstado(t *testing.T) {
	mock := &paymentServiceMock{}
	h := NewPaymentHandler(mock, &reporterMock{}, 0)

	c, w := newGinContext(http.MethodPut, "/api/pagos/21/estado", []byte(`{"estado":" rech "}`))
	c.Params = gin.Params{{Key: "pagoId", Value: "21"}}
	withSession(c, 1, models.RoleAdmin)
	h.SetStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PaymentStatusRejected, mock.lastStatus.Status)
}

func TestPaymentHandlerDownloadReceipt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recibo.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 recibo"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	mock := &paymentServiceMock{download: &service.ReceiptDownload{File: file, Filename: "comprobante-pago-21.pdf", ContentType: "application/pdf"}}
	h := NewPaymentHandler(mock, &reporterMock{}, 0)

	c, w := newGinContext(http.MethodGet, "/api/pagos/comprobantes/descargar?token=abc", nil)
	h.DownloadReceipt(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "comprobante-pago-21.pdf")
	assert.Equal(t, "%PDF-1.4 recibo", w.Body.String())

	c, w = newGinContext(http.MethodGet, "/api/pagos/comprobantes/descargar?token=forged", nil)
	h.DownloadReceipt(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newGinContext(http.MethodGet, "/api/pagos/comprobantes/descargar", nil)
	h.DownloadReceipt(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentHandlerReport(t *testing.T) {
	reports := &reporterMock{}
	h := NewPaymentHandler(&paymentServiceMock{}, reports, 0)

	c, w := newGinContext(http.MethodGet, "/api/pagos/reporte?estado=val&formato=CSV", nil)
	h.Report(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, reports.filter.Status)
	assert.Equal(t, models.PaymentStatusValidated, *reports.filter.Status)
	assert.Equal(t, models.ReportFormatCSV, reports.format)
	assert.Equal(t, `attachment; filename="pagos.csv"`, w.Header().Get("Content-Disposition"))

	reports.err = appErrors.ErrInvalidStatus
	c, w = newGinContext(http.MethodGet, "/api/pagos/reporte?estado=X", nil)
	h.Report(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
