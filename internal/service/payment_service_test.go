package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/eventos-api/internal/models"
	"github.com/noah-isme/eventos-api/internal/repository"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
	"github.com/noah-isme/eventos-api/pkg/jobs"
	"github.com/noah-isme/eventos-api/pkg/mailer"
	"github.com/noah-isme/eventos-api/pkg/storage"
)

var receiptPDF = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

// ledger is an in-memory stand-in for the inscripcion and pago tables.
type ledger struct {
	enrollments      map[int64]*models.EnrollmentDetail
	payments         map[int64]*models.PaymentDetail
	emails           map[int64]string
	nextPaymentID    int64
	createErr        error
	applyCalls       int
	listPendingCalls int
}

func newLedger() *ledger {
	return &ledger{
		enrollments: make(map[int64]*models.EnrollmentDetail),
		payments:    make(map[int64]*models.PaymentDetail),
		emails:      make(map[int64]string),
	}
}

func (l *ledger) enroll(id, userID int64, event *models.Event) {
	l.enrollments[id] = &models.EnrollmentDetail{
		Enrollment: models.Enrollment{
			ID:      id,
			UserID:  userID,
			EventID: event.ID,
			Status:  models.InitialEnrollmentStatus(event.Paid),
			Amount:  event.ExpectedAmount(),
		},
		EventTitle: event.Title,
		EventPaid:  event.Paid,
		EventCost:  event.Cost,
	}
	l.emails[userID] = "estudiante" + strconv.FormatInt(userID, 10) + "@uni.edu"
}

type ledgerEnrollments struct{ *ledger }

func (l ledgerEnrollments) FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	enrollment, ok := l.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *enrollment
	return &copy, nil
}

type ledgerPayments struct{ *ledger }

func (l ledgerPayments) Create(ctx context.Context, payment models.NewPayment) (int64, error) {
	if l.createErr != nil {
		return 0, l.createErr
	}
	enrollment, ok := l.enrollments[payment.EnrollmentID]
	if !ok {
		return 0, repository.ErrUnknownEnrollment
	}
	if enrollment.PaymentID != nil {
		return 0, repository.ErrDuplicatePayment
	}
	l.nextPaymentID++
	id := l.nextPaymentID
	status := models.PaymentStatusPending
	l.payments[id] = &models.PaymentDetail{
		Payment: models.Payment{
			ID:           id,
			EnrollmentID: payment.EnrollmentID,
			Method:       payment.Method,
			ReceiptPath:  payment.ReceiptPath,
			ExternalRef:  payment.ExternalRef,
			Status:       status,
			Amount:       payment.Amount,
			PaidAt:       time.Now().UTC(),
		},
		UserID:       enrollment.UserID,
		StudentEmail: l.emails[enrollment.UserID],
		EventID:      enrollment.EventID,
		EventTitle:   enrollment.EventTitle,
	}
	enrollment.PaymentID = &id
	enrollment.PaymentStatus = &status
	return id, nil
}

func (l ledgerPayments) ApplyDecision(ctx context.Context, decision models.PaymentDecision) (*models.PaymentStatusChange, error) {
	l.applyCalls++
	payment, ok := l.payments[decision.PaymentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if !payment.Status.CanTransitionTo(decision.Status) {
		return nil, repository.ErrPaymentFinalized
	}
	payment.Status = decision.Status
	payment.ApproverID = &decision.ApproverID
	payment.Observations = decision.Observations
	payment.ApprovedAt = nil
	if decision.Status == models.PaymentStatusValidated {
		ts := decision.DecidedAt
		payment.ApprovedAt = &ts
		l.enrollments[payment.EnrollmentID].Status = models.EnrollmentStatusAccepted
	}
	status := decision.Status
	l.enrollments[payment.EnrollmentID].PaymentStatus = &status
	return &models.PaymentStatusChange{
		PaymentID:    payment.ID,
		EnrollmentID: payment.EnrollmentID,
		UserID:       payment.UserID,
		EventID:      payment.EventID,
		Status:       decision.Status,
		Method:       payment.Method,
		Amount:       payment.Amount,
		StudentEmail: payment.StudentEmail,
		EventTitle:   payment.EventTitle,
		ApproverID:   decision.ApproverID,
		ApprovedAt:   payment.ApprovedAt,
		Observations: decision.Observations,
		OccurredAt:   decision.DecidedAt,
	}, nil
}

func (l ledgerPayments) FindDetailByID(ctx context.Context, id int64) (*models.PaymentDetail, error) {
	payment, ok := l.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *payment
	return &copy, nil
}

func (l ledgerPayments) ListByEnrollment(ctx context.Context, enrollmentID int64) ([]models.Payment, error) {
	var payments []models.Payment
	for _, p := range l.payments {
		if p.EnrollmentID == enrollmentID {
			payments = append(payments, p.Payment)
		}
	}
	return payments, nil
}

func (l ledgerPayments) ListPending(ctx context.Context) ([]models.PaymentDetail, error) {
	l.listPendingCalls++
	var pending []models.PaymentDetail
	for _, p := range l.payments {
		if p.Status == models.PaymentStatusPending {
			pending = append(pending, *p)
		}
	}
	return pending, nil
}

type recordingNotifier struct {
	changes []models.PaymentStatusChange
	err     error
}

func (n *recordingNotifier) NotifyStatusChange(ctx context.Context, change models.PaymentStatusChange) error {
	n.changes = append(n.changes, change)
	return n.err
}

type memoryCacheRepo struct {
	entries map[string][]byte
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

type paymentFixture struct {
	svc      *PaymentService
	ledger   *ledger
	notifier *recordingNotifier
	store    *storage.LocalStorage
	dir      string
}

func newPaymentFixture(t *testing.T, maxUpload int64) *paymentFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir, maxUpload, []string{"application/pdf", "image/jpeg", "image/png"})
	require.NoError(t, err)

	l := newLedger()
	l.enroll(11, 7, paidEvent(3, "50.00"))
	l.enroll(12, 9, freeEvent(4))

	notifier := &recordingNotifier{}
	metrics := NewMetricsService()
	cache := NewCacheService(&memoryCacheRepo{entries: make(map[string][]byte)}, metrics, time.Minute, zap.NewNop(), true)
	svc := NewPaymentService(
		ledgerPayments{l},
		ledgerEnrollments{l},
		store,
		storage.NewSignedURLSigner("receipt-secret", time.Hour),
		notifier,
		cache,
		metrics,
		validator.New(),
		zap.NewNop(),
		PaymentConfig{PendingCacheTTL: time.Minute},
	)
	return &paymentFixture{svc: svc, ledger: l, notifier: notifier, store: store, dir: dir}
}

func (f *paymentFixture) storedFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(f.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func manualRequest(enrollmentID int64, amount string) models.ManualPaymentRequest {
	return models.ManualPaymentRequest{EnrollmentID: enrollmentID, Method: models.MethodTransfer, Amount: decimal.RequireFromString(amount)}
}

var reviewer = models.Actor{UserID: 1, Role: models.RoleAdmin}

func TestPaymentServiceCreateManualStoresReceipt(t *testing.T) {
	f := newPaymentFixture(t, 1024)

	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50.00"), bytes.NewReader(receiptPDF))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, created.Status)

	payment := f.ledger.payments[created.PaymentID]
	require.NotNil(t, payment.ReceiptPath)
	assert.Equal(t, "comprobantes", filepath.Dir(filepath.FromSlash(*payment.ReceiptPath)))
	assert.Equal(t, ".pdf", filepath.Ext(*payment.ReceiptPath))
	assert.Len(t, f.storedFiles(t), 1)
}

func TestPaymentServiceCreateTwiceConflicts(t *testing.T) {
	f := newPaymentFixture(t, 1024)

	_, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	_, err = f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), bytes.NewReader(receiptPDF))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrDuplicatePayment)
	assert.Equal(t, 400, appErrors.FromError(err).Status)
	assert.Empty(t, f.storedFiles(t))
}

func TestPaymentServiceCreateRejectsOversizedReceipt(t *testing.T) {
	f := newPaymentFixture(t, 16)

	_, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), bytes.NewReader(receiptPDF))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, f.ledger.payments)
	assert.Empty(t, f.storedFiles(t))
}

func TestPaymentServiceCreateRejectsUnsupportedReceipt(t *testing.T) {
	f := newPaymentFixture(t, 1024)

	_, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), bytes.NewReader([]byte("plain text receipt")))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, f.ledger.payments)
}

func TestPaymentServiceCreateRemovesReceiptWhenInsertFails(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	f.ledger.createErr = errors.New("pq: connection reset")

	_, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), bytes.NewReader(receiptPDF))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Empty(t, f.storedFiles(t))
}

func TestPaymentServiceCreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		actor models.Actor
		req   models.ManualPaymentRequest
		want  *appErrors.Error
	}{
		{name: "unknown enrollment", actor: student(7), req: manualRequest(99, "50"), want: appErrors.ErrEnrollmentNotFound},
		{name: "free event", actor: student(9), req: manualRequest(12, "10"), want: appErrors.ErrValidation},
		{name: "amount mismatch", actor: student(7), req: manualRequest(11, "49.99"), want: appErrors.ErrValidation},
		{name: "zero amount", actor: student(7), req: manualRequest(11, "0"), want: appErrors.ErrValidation},
		{name: "other student", actor: student(8), req: manualRequest(11, "50"), want: appErrors.ErrForbidden},
		{name: "paypal through manual", actor: student(7), req: models.ManualPaymentRequest{EnrollmentID: 11, Method: models.MethodPayPal, Amount: decimal.NewFromInt(50)}, want: appErrors.ErrValidation},
		{name: "missing method", actor: student(7), req: models.ManualPaymentRequest{EnrollmentID: 11, Amount: decimal.NewFromInt(50)}, want: appErrors.ErrValidation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newPaymentFixture(t, 1024)
			_, err := f.svc.CreateManual(context.Background(), tc.actor, tc.req, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, f.ledger.payments)
		})
	}
}

func TestPaymentServiceCreateUsesAmountFixedAtEnrollment(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	// The event was edited after the enrollment: now free, or priced differently.
	f.ledger.enrollments[11].EventPaid = false
	f.ledger.enrollments[11].EventCost = decimal.Zero

	_, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "0"), nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50.00"), nil)
	require.NoError(t, err)
	assert.Equal(t, "50.00", f.ledger.payments[created.PaymentID].Amount.StringFixed(2))

	f.ledger.enrollments[11].EventPaid = true
	f.ledger.enrollments[11].EventCost = decimal.NewFromInt(80)
	_, err = f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusValidated})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusAccepted, f.ledger.enrollments[11].Status)
}

func TestPaymentServiceCreateRejectsCurrentCostWhenItDiffers(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	f.ledger.enrollments[11].EventCost = decimal.NewFromInt(80)

	_, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "80"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, err.Error(), "50.00")
	assert.Empty(t, f.ledger.payments)

	// A free event that later became paid still owes nothing.
	f.ledger.enrollments[12].EventPaid = true
	f.ledger.enrollments[12].EventCost = decimal.NewFromInt(10)
	_, err = f.svc.CreateManual(context.Background(), student(9), manualRequest(12, "10"), nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, f.ledger.payments)
}

func TestPaymentServiceCreateUnknownMethod(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	f.ledger.createErr = repository.ErrUnknownMethod

	_, err := f.svc.CreateManual(context.Background(), student(7), models.ManualPaymentRequest{EnrollmentID: 11, Method: "CHEQUE", Amount: decimal.NewFromInt(50)}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestPaymentServiceCreatePayPal(t *testing.T) {
	f := newPaymentFixture(t, 1024)

	created, err := f.svc.CreatePayPal(context.Background(), student(7), models.PayPalPaymentRequest{
		EnrollmentID: 11,
		Amount:       decimal.RequireFromString("50.00"),
		OrderID:      "5O190127TN364715T",
	})
	require.NoError(t, err)

	payment := f.ledger.payments[created.PaymentID]
	assert.Equal(t, models.MethodPayPal, payment.Method)
	require.NotNil(t, payment.ExternalRef)
	assert.Equal(t, "5O190127TN364715T", *payment.ExternalRef)
	assert.Nil(t, payment.ReceiptPath)
}

func TestPaymentServiceCreatePayPalRejectsBadOrderID(t *testing.T) {
	f := newPaymentFixture(t, 1024)

	for _, orderID := range []string{"", "ORDER-123", string(bytes.Repeat([]byte("A"), 65))} {
		_, err := f.svc.CreatePayPal(context.Background(), student(7), models.PayPalPaymentRequest{
			EnrollmentID: 11,
			Amount:       decimal.NewFromInt(50),
			OrderID:      orderID,
		})
		assert.ErrorIs(t, err, appErrors.ErrValidation, orderID)
	}
	assert.Empty(t, f.ledger.payments)
}

func TestPaymentServiceSetStatusValidated(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	change, err := f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusValidated})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusValidated, change.Status)

	payment := f.ledger.payments[created.PaymentID]
	assert.Equal(t, models.PaymentStatusValidated, payment.Status)
	assert.NotNil(t, payment.ApprovedAt)
	require.NotNil(t, payment.ApproverID)
	assert.Equal(t, int64(1), *payment.ApproverID)
	assert.Equal(t, models.EnrollmentStatusAccepted, f.ledger.enrollments[11].Status)

	require.Len(t, f.notifier.changes, 1)
	assert.Equal(t, "estudiante7@uni.edu", f.notifier.changes[0].StudentEmail)
}

func TestPaymentServiceSetStatusRejected(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	observations := "comprobante ilegible"
	_, err = f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{
		Status:       models.PaymentStatusRejected,
		Observations: &observations,
	})
	require.NoError(t, err)

	payment := f.ledger.payments[created.PaymentID]
	assert.Equal(t, models.PaymentStatusRejected, payment.Status)
	assert.Nil(t, payment.ApprovedAt)
	assert.Equal(t, models.EnrollmentStatusPending, f.ledger.enrollments[11].Status)
}

func TestPaymentServiceSetStatusRejectsNonDecisionStatus(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	for _, status := range []models.PaymentStatus{models.PaymentStatusPending, " pen ", "APR", "validado", ""} {
		_, err := f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: status})
		require.Error(t, err)
		assert.Equal(t, 400, appErrors.FromError(err).Status, string(status))
	}
	assert.Zero(t, f.ledger.applyCalls)
	assert.Equal(t, models.PaymentStatusPending, f.ledger.payments[created.PaymentID].Status)
	assert.Empty(t, f.notifier.changes)
}

func TestPaymentServiceSetStatusIgnoresCase(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	change, err := f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: " val "})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusValidated, change.Status)
	assert.Equal(t, models.PaymentStatusValidated, f.ledger.payments[created.PaymentID].Status)
	assert.Equal(t, models.EnrollmentStatusAccepted, f.ledger.enrollments[11].Status)
}

func TestPaymentServiceSetStatusOnlyFromPending(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	_, err = f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusInvalid})
	require.NoError(t, err)

	_, err = f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusValidated})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrPaymentFinalized)
	assert.Equal(t, 409, appErrors.FromError(err).Status)
	assert.Equal(t, models.PaymentStatusInvalid, f.ledger.payments[created.PaymentID].Status)
	assert.Equal(t, models.EnrollmentStatusPending, f.ledger.enrollments[11].Status)
}

func TestPaymentServiceSetStatusErrors(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	_, err = f.svc.SetStatus(context.Background(), reviewer, 404, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusValidated})
	assert.ErrorIs(t, err, appErrors.ErrPaymentNotFound)

	_, err = f.svc.SetStatus(context.Background(), student(7), created.PaymentID, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusValidated})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	other := int64(2)
	_, err = f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusValidated, ApproverID: &other})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Equal(t, models.PaymentStatusPending, f.ledger.payments[created.PaymentID].Status)

	self := reviewer.UserID
	_, err = f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusValidated, ApproverID: &self})
	assert.NoError(t, err)
}

func TestPaymentServiceNotificationFailureKeepsApproval(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	f.notifier.err = errors.New("queue full")
	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	change, err := f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusValidated})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusValidated, change.Status)
	assert.Equal(t, models.EnrollmentStatusAccepted, f.ledger.enrollments[11].Status)
	assert.Len(t, f.notifier.changes, 1)
}

func TestPaymentServiceListByEnrollment(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	_, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	payments, err := f.svc.ListByEnrollment(context.Background(), student(7), 11)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	payments, err = f.svc.ListByEnrollment(context.Background(), student(9), 12)
	require.NoError(t, err)
	assert.NotNil(t, payments)
	assert.Empty(t, payments)

	_, err = f.svc.ListByEnrollment(context.Background(), student(9), 11)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.ListByEnrollment(context.Background(), reviewer, 99)
	assert.ErrorIs(t, err, appErrors.ErrEnrollmentNotFound)
}

func TestPaymentServiceListPendingUsesCache(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	pending, err := f.svc.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, created.PaymentID, pending[0].ID)

	pending, err = f.svc.ListPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, 1, f.ledger.listPendingCalls)

	_, err = f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusRejected})
	require.NoError(t, err)

	pending, err = f.svc.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 2, f.ledger.listPendingCalls)
}

// interleavedPayments runs afterRead once, after the pending rows are read
// and before the service caches them.
type interleavedPayments struct {
	ledgerPayments
	afterRead func()
}

func (p *interleavedPayments) ListPending(ctx context.Context) ([]models.PaymentDetail, error) {
	pending, err := p.ledgerPayments.ListPending(ctx)
	if p.afterRead != nil {
		hook := p.afterRead
		p.afterRead = nil
		hook()
	}
	return pending, err
}

func TestPaymentServiceListPendingDoesNotCacheStaleRead(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	repo := &interleavedPayments{ledgerPayments: ledgerPayments{f.ledger}}
	repo.afterRead = func() {
		_, err := f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusValidated})
		require.NoError(t, err)
	}
	f.svc.payments = repo

	pending, err := f.svc.ListPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, models.PaymentStatusValidated, f.ledger.payments[created.PaymentID].Status)

	pending, err = f.svc.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 2, f.ledger.listPendingCalls)
}

func TestPaymentServiceReceiptDownload(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), bytes.NewReader(receiptPDF))
	require.NoError(t, err)

	link, err := f.svc.ReceiptURL(context.Background(), student(7), created.PaymentID)
	require.NoError(t, err)
	assert.True(t, link.ExpiresAt.After(time.Now()))

	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)
	assert.Equal(t, "/api/pagos/comprobantes/descargar", parsed.Path)
	token := parsed.Query().Get("token")
	require.NotEmpty(t, token)

	download, err := f.svc.OpenReceipt(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Equal(t, receiptPDF, content)
	assert.Equal(t, "application/pdf", download.ContentType)
	assert.Equal(t, "comprobante-pago-1.pdf", download.Filename)

	_, err = f.svc.OpenReceipt(context.Background(), token+"x")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = f.svc.ReceiptURL(context.Background(), student(9), created.PaymentID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestPaymentServiceReceiptURLWithoutReceipt(t *testing.T) {
	f := newPaymentFixture(t, 1024)
	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(11, "50"), nil)
	require.NoError(t, err)

	_, err = f.svc.ReceiptURL(context.Background(), student(7), created.PaymentID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

type capturingMailer struct {
	sent []string
}

func (m *capturingMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.sent = append(m.sent, msg.To)
	return nil
}

type inlineDispatcher struct {
	handle jobs.Handler
}

func (d inlineDispatcher) Enqueue(job jobs.Job) error {
	_ = d.handle(context.Background(), job)
	return nil
}

func TestEnrollPayApproveScenario(t *testing.T) {
	events := &mockEventReader{events: map[int64]*models.Event{3: paidEvent(3, "50")}}
	enrollments := newMockEnrollmentRepo(events)
	enrollSvc := NewEnrollmentService(events, enrollments, nil, validator.New(), zap.NewNop())

	result, err := enrollSvc.Create(context.Background(), student(7), models.CreateEnrollmentRequest{UserID: 7, EventID: 3})
	require.NoError(t, err)
	assert.True(t, result.RequiresPayment)
	assert.Equal(t, "50.00", result.Amount.StringFixed(2))

	f := newPaymentFixture(t, 1024)
	f.ledger.enroll(result.EnrollmentID, 7, paidEvent(3, "50"))

	mail := &capturingMailer{}
	worker := NewNotificationWorker(mail, nil, nil, zap.NewNop())
	f.svc.notifier = NewNotificationService(inlineDispatcher{handle: worker.Handle}, nil, zap.NewNop())

	created, err := f.svc.CreateManual(context.Background(), student(7), manualRequest(result.EnrollmentID, "50.00"), bytes.NewReader(receiptPDF))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, created.Status)

	_, err = f.svc.SetStatus(context.Background(), reviewer, created.PaymentID, models.UpdatePaymentStatusRequest{Status: models.PaymentStatusValidated})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusAccepted, f.ledger.enrollments[result.EnrollmentID].Status)
	assert.Equal(t, []string{"estudiante7@uni.edu"}, mail.sent)
}
