package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending  EnrollmentStatus = "PEN"
	EnrollmentStatusAccepted EnrollmentStatus = "ACE"
)

// InitialEnrollmentStatus is PEN for paid events and ACE for free ones.
func InitialEnrollmentStatus(paid bool) EnrollmentStatus {
	if paid {
		return EnrollmentStatusPending
	}
	return EnrollmentStatusAccepted
}

// Enrollment links one user to one event.
type Enrollment struct {
	ID         int64            `db:"id" json:"id"`
	UserID     int64            `db:"id_usuario" json:"usuarioId"`
	EventID    int64            `db:"id_evento" json:"eventoId"`
	EnrolledAt time.Time        `db:"fecha_inscripcion" json:"fechaInscripcion"`
	Status     EnrollmentStatus `db:"estado" json:"estado"`
	// Amount is the payment due, copied from the event cost at enrollment time.
	Amount     decimal.Decimal  `db:"monto" json:"monto"`
	Motivation *string          `db:"motivacion" json:"motivacion"`
}

// RequiresPayment reports whether a payment must be registered for the enrollment.
func (e Enrollment) RequiresPayment() bool {
	return e.Amount.IsPositive()
}

// EnrollmentDetail enriches Enrollment with event and payment info.
type EnrollmentDetail struct {
	Enrollment
	EventTitle    string          `db:"evento_titulo" json:"eventoTitulo"`
	EventPaid     bool            `db:"evento_es_pagado" json:"eventoEsPagado"`
	EventCost     decimal.Decimal `db:"evento_costo" json:"eventoCosto"`
	PaymentID     *int64          `db:"pago_id" json:"pagoId"`
	PaymentStatus *PaymentStatus  `db:"pago_estado" json:"pagoEstado"`
}

// RosterEntry is one enrollment of an event with the student's contact.
type RosterEntry struct {
	Enrollment
	StudentName   string         `db:"estudiante_nombre" json:"estudianteNombre"`
	StudentEmail  string         `db:"estudiante_correo" json:"estudianteCorreo"`
	PaymentStatus *PaymentStatus `db:"pago_estado" json:"pagoEstado"`
}

// CreateEnrollmentRequest asks to enroll a user in an event.
type CreateEnrollmentRequest struct {
	UserID     int64   `json:"-" validate:"required,gt=0"`
	EventID    int64   `json:"eventoId" validate:"required,gt=0"`
	Motivation *string `json:"motivacion" validate:"omitempty,max=2000"`
}

// EnrollmentResult tells the caller whether a payment must follow.
type EnrollmentResult struct {
	EnrollmentID    int64            `json:"inscripcionId"`
	RequiresPayment bool             `json:"requierePago"`
	Amount          decimal.Decimal  `json:"monto"`
	Status          EnrollmentStatus `json:"estado"`
}
