package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType classifies an event.
type EventType string

const (
	EventTypeCourse     EventType = "CUR"
	EventTypeWorkshop   EventType = "TAL"
	EventTypeSeminar    EventType = "SEM"
	EventTypeConference EventType = "CON"
)

// EventStatus tracks whether an event is still published.
type EventStatus string

const (
	EventStatusActive    EventStatus = "ACT"
	EventStatusClosed    EventStatus = "CER"
	EventStatusCancelled EventStatus = "CAN"
)

// Event is a course, workshop, seminar or conference.
type Event struct {
	ID            int64           `db:"id" json:"id"`
	Title         string          `db:"titulo" json:"titulo"`
	Description   string          `db:"descripcion" json:"descripcion"`
	Type          EventType       `db:"tipo" json:"tipo"`
	Paid          bool            `db:"es_pagado" json:"esPagado"`
	Cost          decimal.Decimal `db:"costo" json:"costo"`
	MinAttendance int             `db:"asistencia_minima" json:"asistenciaMinima"`
	PassingGrade  decimal.Decimal `db:"nota_aprobacion" json:"notaAprobacion"`
	StartDate     time.Time       `db:"fecha_inicio" json:"fechaInicio"`
	EndDate       time.Time       `db:"fecha_fin" json:"fechaFin"`
	Status        EventStatus     `db:"estado" json:"estado"`
	CreatedAt     time.Time       `db:"creado_en" json:"creadoEn"`
}

// ExpectedAmount is what an enrollment must pay: the cost for paid events, zero otherwise.
func (e Event) ExpectedAmount() decimal.Decimal {
	if !e.Paid {
		return decimal.Zero
	}
	return e.Cost
}

// EventFilter provides filters for listing events.
type EventFilter struct {
	Type     *EventType
	Status   *EventStatus
	Paid     *bool
	Search   string
	Page     int
	PageSize int
}

// EventRequest creates or replaces an event. Dates use the YYYY-MM-DD layout.
type EventRequest struct {
	Title         string          `json:"titulo" validate:"required,max=200"`
	Description   string          `json:"descripcion" validate:"max=5000"`
	Type          EventType       `json:"tipo" validate:"required,oneof=CUR TAL SEM CON"`
	Paid          bool            `json:"esPagado"`
	Cost          decimal.Decimal `json:"costo"`
	MinAttendance int             `json:"asistenciaMinima" validate:"min=0,max=100"`
	PassingGrade  decimal.Decimal `json:"notaAprobacion"`
	StartDate     string          `json:"fechaInicio" validate:"required,datetime=2006-01-02"`
	EndDate       string          `json:"fechaFin" validate:"required,datetime=2006-01-02"`
	Status        EventStatus     `json:"estado" validate:"omitempty,oneof=ACT CER CAN"`
}
