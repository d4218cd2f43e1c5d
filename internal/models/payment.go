package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the review state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PEN"
	PaymentStatusValidated PaymentStatus = "VAL"
	PaymentStatusRejected  PaymentStatus = "RECH"
	PaymentStatusInvalid   PaymentStatus = "INV"
)

// ParsePaymentStatus normalizes a client-supplied status code: surrounding
// blanks are dropped and the code is matched case-insensitively.
func ParsePaymentStatus(raw string) PaymentStatus {
	return PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsDecision reports whether the status is a reviewer outcome.
func (s PaymentStatus) IsDecision() bool {
	switch s {
	case PaymentStatusValidated, PaymentStatusRejected, PaymentStatusInvalid:
		return true
	}
	return false
}

// CanTransitionTo reports whether a reviewer may move the payment to next.
// Only pending payments can be decided; every decision is terminal.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && next.IsDecision()
}

// Payment method codes seeded in forma_pago.
const (
	MethodTransfer = "TRANSFER"
	MethodDeposit  = "DEPOSITO"
	MethodCash     = "EFECTIVO"
	MethodPayPal   = "PAYPAL"
)

// Payment is a payment attempt for one enrollment.
type Payment struct {
	ID           int64           `db:"id" json:"id"`
	EnrollmentID int64           `db:"id_inscripcion" json:"inscripcionId"`
	Method       string          `db:"forma_pago" json:"formaPago"`
	ReceiptPath  *string         `db:"comprobante_url" json:"comprobanteUrl"`
	ExternalRef  *string         `db:"referencia_externa" json:"referenciaExterna"`
	Status       PaymentStatus   `db:"estado" json:"estado"`
	Amount       decimal.Decimal `db:"monto" json:"monto"`
	PaidAt       time.Time       `db:"fecha_pago" json:"fechaPago"`
	ApprovedAt   *time.Time      `db:"fecha_aprobacion" json:"fechaAprobacion"`
	ApproverID   *int64          `db:"id_aprobador" json:"aprobadorId"`
	Observations *string         `db:"observaciones" json:"observaciones"`
}

// PaymentDetail joins a payment with its student and event.
type PaymentDetail struct {
	Payment
	UserID       int64  `db:"id_usuario" json:"usuarioId"`
	StudentName  string `db:"estudiante_nombre" json:"estudianteNombre"`
	StudentEmail string `db:"estudiante_correo" json:"estudianteCorreo"`
	EventID      int64  `db:"id_evento" json:"eventoId"`
	EventTitle   string `db:"evento_titulo" json:"eventoTitulo"`
}

// NewPayment is the row inserted by create_payment.
type NewPayment struct {
	EnrollmentID int64
	Method       string
	Amount       decimal.Decimal
	ReceiptPath  *string
	ExternalRef  *string
}

// ManualPaymentRequest is the multipart form of a receipt-backed payment.
type ManualPaymentRequest struct {
	EnrollmentID int64           `form:"inscripcionId" validate:"required,gt=0"`
	Method       string          `form:"formaPago" validate:"required,max=20"`
	Amount       decimal.Decimal `form:"-"`
}

// PayPalPaymentRequest records a captured PayPal order.
type PayPalPaymentRequest struct {
	EnrollmentID int64           `json:"inscripcionId" validate:"required,gt=0"`
	Amount       decimal.Decimal `json:"monto"`
	OrderID      string          `json:"paypalOrderId" validate:"required,alphanum,max=64"`
}

// UpdatePaymentStatusRequest is a reviewer decision.
type UpdatePaymentStatusRequest struct {
	Status       PaymentStatus `json:"estado" validate:"required"`
	Observations *string       `json:"observaciones" validate:"omitempty,max=1000"`
	ApproverID   *int64        `json:"aprobadorId"`
}

// PaymentDecision is what the repository applies in one transaction.
type PaymentDecision struct {
	PaymentID    int64
	Status       PaymentStatus
	ApproverID   int64
	Observations *string
	DecidedAt    time.Time
}

// PaymentStatusChange is emitted after a decision commits.
type PaymentStatusChange struct {
	PaymentID    int64           `json:"pagoId"`
	EnrollmentID int64           `json:"inscripcionId"`
	UserID       int64           `json:"usuarioId"`
	EventID      int64           `json:"eventoId"`
	Status       PaymentStatus   `json:"estado"`
	Method       string          `json:"formaPago"`
	Amount       decimal.Decimal `json:"monto"`
	StudentName  string          `json:"estudianteNombre"`
	StudentEmail string          `json:"-"`
	EventTitle   string          `json:"eventoTitulo"`
	ApproverID   int64           `json:"aprobadorId"`
	ApprovedAt   *time.Time      `json:"fechaAprobacion"`
	Observations *string         `json:"observaciones,omitempty"`
	OccurredAt   time.Time       `json:"ocurridoEn"`
}

// PaymentReportFilter narrows the exported payments.
type PaymentReportFilter struct {
	Status *PaymentStatus
}

// PaymentCreated is returned once a payment has been registered.
type PaymentCreated struct {
	PaymentID int64         `json:"pagoId"`
	Status    PaymentStatus `json:"estado"`
}

// ReceiptLink is a signed, expiring download link for a stored receipt.
type ReceiptLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiraEn"`
}
