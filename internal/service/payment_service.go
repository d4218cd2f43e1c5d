package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/eventos-api/internal/models"
	"github.com/noah-isme/eventos-api/internal/repository"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
	"github.com/noah-isme/eventos-api/pkg/storage"
)

const (
	pendingPaymentsCacheKey = "pagos:pendientes"
	receiptUploadDir        = "comprobantes"
)

type paymentRepository interface {
	Create(ctx context.Context, payment models.NewPayment) (int64, error)
	ApplyDecision(ctx context.Context, decision models.PaymentDecision) (*models.PaymentStatusChange, error)
	FindDetailByID(ctx context.Context, id int64) (*models.PaymentDetail, error)
	ListByEnrollment(ctx context.Context, enrollmentID int64) ([]models.Payment, error)
	ListPending(ctx context.Context) ([]models.PaymentDetail, error)
}

type paymentEnrollmentReader interface {
	FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error)
}

type receiptStorage interface {
	SaveUpload(dir string, r io.Reader) (*storage.StoredFile, error)
	Open(relPath string) (*os.File, error)
	Delete(relPath string) error
}

type paymentNotifier interface {
	NotifyStatusChange(ctx context.Context, change models.PaymentStatusChange) error
}

// PaymentConfig tunes payment behaviour.
type PaymentConfig struct {
	PendingCacheTTL time.Duration
	// DownloadPath is the route that serves signed receipt downloads.
	DownloadPath string
}

// ReceiptDownload is an opened receipt ready to be streamed.
type ReceiptDownload struct {
	File        *os.File
	Filename    string
	ContentType string
}

// PaymentService registers payments and applies reviewer decisions.
type PaymentService struct {
	payments    paymentRepository
	enrollments paymentEnrollmentReader
	storage     receiptStorage
	signer      *storage.SignedURLSigner
	notifier    paymentNotifier
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         PaymentConfig
	now         func() time.Time
	// pendingGen is bumped on every invalidation so a read that raced a
	// decision does not write its snapshot back into the cache.
	pendingGen  atomic.Uint64
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(
	payments paymentRepository,
	enrollments paymentEnrollmentReader,
	store receiptStorage,
	signer *storage.SignedURLSigner,
	notifier paymentNotifier,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg PaymentConfig,
) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/pagos/comprobantes/descargar"
	}
	return &PaymentService{
		payments:    payments,
		enrollments: enrollments,
		storage:     store,
		signer:      signer,
		notifier:    notifier,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// CreateManual registers a transfer, deposit or cash payment. When receipt is
// not nil it is stored before the insert and removed again if the insert fails.
func (s *PaymentService) CreateManual(ctx context.Context, actor models.Actor, req models.ManualPaymentRequest, receipt io.Reader) (*models.PaymentCreated, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == models.MethodPayPal {
		return nil, appErrors.Clone(appErrors.ErrValidation, "PayPal payments must use the PayPal endpoint")
	}
	if _, err := s.payableEnrollment(ctx, actor, req.EnrollmentID, req.Amount); err != nil {
		return nil, err
	}

	payment := models.NewPayment{EnrollmentID: req.EnrollmentID, Method: method, Amount: req.Amount.Round(2)}
	if receipt != nil {
		stored, err := s.storage.SaveUpload(receiptUploadDir, receipt)
		if err != nil {
			return nil, mapUploadError(err)
		}
		payment.ReceiptPath = &stored.RelPath
	}

	created, err := s.create(ctx, payment)
	if err != nil && payment.ReceiptPath != nil {
		if delErr := s.storage.Delete(*payment.ReceiptPath); delErr != nil {
			s.logger.Warn("failed to remove orphaned receipt", zap.String("path", *payment.ReceiptPath), zap.Error(delErr))
		}
	}
	return created, err
}

// CreatePayPal registers a payment captured through PayPal.
func (s *PaymentService) CreatePayPal(ctx context.Context, actor models.Actor, req models.PayPalPaymentRequest) (*models.PaymentCreated, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid PayPal payment payload")
	}
	if _, err := s.payableEnrollment(ctx, actor, req.EnrollmentID, req.Amount); err != nil {
		return nil, err
	}
	orderID := req.OrderID
	return s.create(ctx, models.NewPayment{
		EnrollmentID: req.EnrollmentID,
		Method:       models.MethodPayPal,
		Amount:       req.Amount.Round(2),
		ExternalRef:  &orderID,
	})
}

// payableEnrollment checks that the actor may pay for the enrollment and that
// the amount matches what was due when the enrollment was created. Later edits
// to the event's paid flag or cost do not apply to existing enrollments.
func (s *PaymentService) payableEnrollment(ctx context.Context, actor models.Actor, enrollmentID int64, amount decimal.Decimal) (*models.EnrollmentDetail, error) {
	enrollment, err := s.enrollments.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !actor.CanActFor(enrollment.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot pay for another user's enrollment")
	}
	if enrollment.PaymentID != nil {
		return nil, appErrors.ErrDuplicatePayment
	}
	if !enrollment.RequiresPayment() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment does not require payment")
	}
	if !amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "monto must be greater than zero")
	}
	if !amount.Equal(enrollment.Amount) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("monto must equal the amount due %s", enrollment.Amount.StringFixed(2)))
	}
	return enrollment, nil
}

func (s *PaymentService) create(ctx context.Context, payment models.NewPayment) (*models.PaymentCreated, error) {
	start := time.Now()
	id, err := s.payments.Create(ctx, payment)
	s.metrics.ObserveDBQuery("payment_create", time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUnknownEnrollment):
			return nil, appErrors.ErrEnrollmentNotFound
		case errors.Is(err, repository.ErrDuplicatePayment):
			return nil, appErrors.ErrDuplicatePayment
		case errors.Is(err, repository.ErrUnknownMethod):
			return nil, appErrors.CloneWrap(appErrors.Clone(appErrors.ErrValidation, "unknown payment method"), err)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
	}

	s.metrics.RecordPayment(payment.Method)
	s.invalidatePending(ctx)
	s.logger.Info("payment registered",
		zap.Int64("payment_id", id),
		zap.Int64("enrollment_id", payment.EnrollmentID),
		zap.String("forma_pago", payment.Method),
	)
	return &models.PaymentCreated{PaymentID: id, Status: models.PaymentStatusPending}, nil
}

// SetStatus applies a reviewer decision to a pending payment. The notification
// is scheduled only after the decision has committed and never fails the call.
func (s *PaymentService) SetStatus(ctx context.Context, actor models.Actor, paymentID int64, req models.UpdatePaymentStatusRequest) (*models.PaymentStatusChange, error) {
	req.Status = models.ParsePaymentStatus(string(req.Status))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !req.Status.IsDecision() {
		return nil, appErrors.ErrInvalidStatus
	}
	if !actor.Role.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers may decide payments")
	}
	if req.ApproverID != nil && *req.ApproverID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "aprobadorId must match the signed-in reviewer")
	}

	start := time.Now()
	change, err := s.payments.ApplyDecision(ctx, models.PaymentDecision{
		PaymentID:    paymentID,
		Status:       req.Status,
		ApproverID:   actor.UserID,
		Observations: req.Observations,
		DecidedAt:    s.now().UTC(),
	})
	s.metrics.ObserveDBQuery("payment_decision", time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.ErrPaymentNotFound
		case errors.Is(err, repository.ErrPaymentFinalized):
			return nil, appErrors.ErrPaymentFinalized
		case errors.Is(err, repository.ErrUnknownUser):
			return nil, appErrors.ErrUserNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update payment status")
	}

	s.metrics.RecordDecision(change.Status)
	s.invalidatePending(ctx)
	s.logger.Info("payment decided",
		zap.Int64("payment_id", change.PaymentID),
		zap.String("estado", string(change.Status)),
		zap.Int64("approver_id", change.ApproverID),
	)

	if s.notifier != nil {
		if err := s.notifier.NotifyStatusChange(ctx, *change); err != nil {
			s.logger.Warn("payment notification not scheduled", zap.Int64("payment_id", change.PaymentID), zap.Error(err))
		}
	}
	return change, nil
}

// ListByEnrollment returns the payments of an enrollment the actor may see.
func (s *PaymentService) ListByEnrollment(ctx context.Context, actor models.Actor, enrollmentID int64) ([]models.Payment, error) {
	enrollment, err := s.enrollments.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !actor.CanActFor(enrollment.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot read another user's payments")
	}
	payments, err := s.payments.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	return payments, nil
}

// ListPending returns the review queue, served from cache when enabled.
func (s *PaymentService) ListPending(ctx context.Context) ([]models.PaymentDetail, error) {
	var cached []models.PaymentDetail
	if hit, _ := s.cache.Get(ctx, pendingPaymentsCacheKey, &cached); hit {
		return cached, nil
	}

	gen := s.pendingGen.Load()
	start := time.Now()
	pending, err := s.payments.ListPending(ctx)
	s.metrics.ObserveDBQuery("payment_pending", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending payments")
	}
	if pending == nil {
		pending = []models.PaymentDetail{}
	}
	if s.pendingGen.Load() == gen {
		_ = s.cache.Set(ctx, pendingPaymentsCacheKey, pending, s.cfg.PendingCacheTTL)
		// An invalidation may have landed between the check and the write.
		if s.pendingGen.Load() != gen {
			_ = s.cache.Invalidate(ctx, pendingPaymentsCacheKey)
		}
	}
	return pending, nil
}

// ReceiptURL issues a signed, expiring download link for the payment's receipt.
func (s *PaymentService) ReceiptURL(ctx context.Context, actor models.Actor, paymentID int64) (*models.ReceiptLink, error) {
	payment, err := s.payments.FindDetailByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrPaymentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if !actor.CanActFor(payment.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot read another user's receipt")
	}
	if payment.ReceiptPath == nil || *payment.ReceiptPath == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "payment has no receipt")
	}

	token, expiresAt, err := s.signer.Generate(strconv.FormatInt(payment.ID, 10), *payment.ReceiptPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign receipt link")
	}
	return &models.ReceiptLink{
		URL:       s.cfg.DownloadPath + "?token=" + url.QueryEscape(token),
		ExpiresAt: expiresAt,
	}, nil
}

// OpenReceipt resolves a signed token to the stored receipt. The caller closes the file.
func (s *PaymentService) OpenReceipt(ctx context.Context, token string) (*ReceiptDownload, error) {
	subject, relPath, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "download link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}
	paymentID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}

	payment, err := s.payments.FindDetailByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrPaymentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if payment.ReceiptPath == nil || *payment.ReceiptPath != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link does not match the payment receipt")
	}

	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "receipt file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open receipt")
	}
	return &ReceiptDownload{
		File:        file,
		Filename:    fmt.Sprintf("comprobante-pago-%d%s", payment.ID, path.Ext(relPath)),
		ContentType: storage.ContentTypeFor(relPath),
	}, nil
}

func (s *PaymentService) invalidatePending(ctx context.Context) {
	s.pendingGen.Add(1)
	_ = s.cache.Invalidate(ctx, pendingPaymentsCacheKey)
}

func mapUploadError(err error) error {
	switch {
	case errors.Is(err, storage.ErrFileTooLarge):
		return appErrors.CloneWrap(appErrors.Clone(appErrors.ErrValidation, "comprobante exceeds the maximum size"), err)
	case errors.Is(err, storage.ErrUnsupportedType):
		return appErrors.CloneWrap(appErrors.Clone(appErrors.ErrValidation, "comprobante must be a PDF, JPEG or PNG file"), err)
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store receipt")
	}
}
