package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/eventos-api/internal/models"
	"github.com/noah-isme/eventos-api/pkg/dberrors"
)

const enrollmentDetailSelect = `SELECT i.id, i.id_usuario, i.id_evento, i.fecha_inscripcion, i.estado, i.monto, i.motivacion,
        e.titulo AS evento_titulo, e.es_pagado AS evento_es_pagado, e.costo AS evento_costo,
        p.id AS pago_id, p.estado AS pago_estado
        FROM inscripcion i
        JOIN evento e ON e.id = i.id_evento
        LEFT JOIN pago p ON p.id_inscripcion = i.id`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create inserts the enrollment inside a transaction after checking that the
// (user, event) pair is not enrolled yet. The event row is read FOR SHARE so
// its paid flag and cost cannot change before the insert commits; Status and
// Amount are derived from it and written back to enrollment. The unique
// constraint covers concurrent requests that both pass the read.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create enrollment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var event models.Event
	err = tx.GetContext(ctx, &event, `SELECT id, es_pagado, costo FROM evento WHERE id = $1 FOR SHARE`, enrollment.EventID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = ErrUnknownEvent
		return err
	case err != nil:
		err = fmt.Errorf("lock event for enrollment: %w", err)
		return err
	}
	enrollment.Status = models.InitialEnrollmentStatus(event.Paid)
	enrollment.Amount = event.ExpectedAmount()

	var existing int64
	err = tx.GetContext(ctx, &existing, `SELECT id FROM inscripcion WHERE id_usuario = $1 AND id_evento = $2 LIMIT 1`, enrollment.UserID, enrollment.EventID)
	switch {
	case err == nil:
		err = ErrDuplicateEnrollment
		return err
	case !errors.Is(err, sql.ErrNoRows):
		err = fmt.Errorf("check existing enrollment: %w", err)
		return err
	}

	const insert = `INSERT INTO inscripcion (id_usuario, id_evento, fecha_inscripcion, estado, monto, motivacion)
        VALUES ($1, $2, NOW(), $3, $4, $5) RETURNING id, fecha_inscripcion`
	err = tx.QueryRowxContext(ctx, insert, enrollment.UserID, enrollment.EventID, enrollment.Status, enrollment.Amount, enrollment.Motivation).
		Scan(&enrollment.ID, &enrollment.EnrolledAt)
	if err != nil {
		err = mapEnrollmentInsertError(err)
		return err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit create enrollment: %w", err)
		return err
	}
	return nil
}

func mapEnrollmentInsertError(err error) error {
	switch {
	case dberrors.IsUniqueViolation(err, "uq_inscripcion_usuario_evento"):
		return ErrDuplicateEnrollment
	case dberrors.IsForeignKeyViolation(err, "fk_inscripcion_usuario"):
		return ErrUnknownUser
	case dberrors.IsForeignKeyViolation(err, "fk_inscripcion_evento"):
		return ErrUnknownEvent
	default:
		return fmt.Errorf("insert enrollment: %w", err)
	}
}

// FindByUserAndEvent returns the enrollment for the pair or sql.ErrNoRows.
func (r *EnrollmentRepository) FindByUserAndEvent(ctx context.Context, userID, eventID int64) (*models.EnrollmentDetail, error) {
	const query = enrollmentDetailSelect + ` WHERE i.id_usuario = $1 AND i.id_evento = $2`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, userID, eventID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by user and event: %w", err)
	}
	return &detail, nil
}

// FindDetailByID returns an enrollment with event and payment info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	const query = enrollmentDetailSelect + ` WHERE i.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment detail: %w", err)
	}
	return &detail, nil
}

// ListByUser returns all enrollments of a user, newest first.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID int64) ([]models.EnrollmentDetail, error) {
	const query = enrollmentDetailSelect + ` WHERE i.id_usuario = $1 ORDER BY i.fecha_inscripcion DESC`
	var details []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &details, query, userID); err != nil {
		return nil, fmt.Errorf("list user enrollments: %w", err)
	}
	return details, nil
}

// ListByEvent returns the roster of an event ordered by student name.
func (r *EnrollmentRepository) ListByEvent(ctx context.Context, eventID int64) ([]models.RosterEntry, error) {
	const query = `SELECT i.id, i.id_usuario, i.id_evento, i.fecha_inscripcion, i.estado, i.monto, i.motivacion,
        u.nombre || ' ' || u.apellido AS estudiante_nombre, u.correo AS estudiante_correo,
        p.estado AS pago_estado
        FROM inscripcion i
        JOIN usuario u ON u.id = i.id_usuario
        LEFT JOIN pago p ON p.id_inscripcion = i.id
        WHERE i.id_evento = $1
        ORDER BY u.apellido, u.nombre`
	var roster []models.RosterEntry
	if err := r.db.SelectContext(ctx, &roster, query, eventID); err != nil {
		return nil, fmt.Errorf("list event enrollments: %w", err)
	}
	return roster, nil
}
