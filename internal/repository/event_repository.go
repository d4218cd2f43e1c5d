package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/eventos-api/internal/models"
)

const eventColumns = "id, titulo, descripcion, tipo, es_pagado, costo, asistencia_minima, nota_aprobacion, fecha_inicio, fecha_fin, estado, creado_en"

// EventRepository handles persistence of events.
type EventRepository struct {
	db *sqlx.DB
	sb squirrel.StatementBuilderType
}

// NewEventRepository constructs the repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db, sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

// FindByID returns an event by its ID.
func (r *EventRepository) FindByID(ctx context.Context, id int64) (*models.Event, error) {
	const query = `SELECT ` + eventColumns + ` FROM evento WHERE id = $1`
	var event models.Event
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	return &event, nil
}

// List returns events filtered by type, status, paid flag and title.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	where := squirrel.And{}
	if filter.Type != nil {
		where = append(where, squirrel.Eq{"tipo": *filter.Type})
	}
	if filter.Status != nil {
		where = append(where, squirrel.Eq{"estado": *filter.Status})
	}
	if filter.Paid != nil {
		where = append(where, squirrel.Eq{"es_pagado": *filter.Paid})
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		where = append(where, squirrel.ILike{"titulo": "%" + search + "%"})
	}

	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	listQuery, args, err := applyWhere(r.sb.Select(eventColumns).From("evento"), where).
		OrderBy("fecha_inicio DESC", "id DESC").
		Limit(uint64(size)).Offset(uint64((page - 1) * size)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list events: %w", err)
	}

	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	countQuery, countArgs, err := applyWhere(r.sb.Select("COUNT(*)").From("evento"), where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count events: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}
	return events, total, nil
}

// Create persists a new event and fills its id and timestamp.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	query, args, err := r.sb.Insert("evento").
		Columns("titulo", "descripcion", "tipo", "es_pagado", "costo", "asistencia_minima", "nota_aprobacion", "fecha_inicio", "fecha_fin", "estado").
		Values(event.Title, event.Description, event.Type, event.Paid, event.Cost, event.MinAttendance, event.PassingGrade, event.StartDate, event.EndDate, event.Status).
		Suffix("RETURNING id, creado_en").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create event: %w", err)
	}
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&event.ID, &event.CreatedAt); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of an event.
func (r *EventRepository) Update(ctx context.Context, event *models.Event) error {
	query, args, err := r.sb.Update("evento").
		SetMap(map[string]interface{}{
			"titulo":            event.Title,
			"descripcion":       event.Description,
			"tipo":              event.Type,
			"es_pagado":         event.Paid,
			"costo":             event.Cost,
			"asistencia_minima": event.MinAttendance,
			"nota_aprobacion":   event.PassingGrade,
			"fecha_inicio":      event.StartDate,
			"fecha_fin":         event.EndDate,
			"estado":            event.Status,
		}).
		Where(squirrel.Eq{"id": event.ID}).
		Suffix("RETURNING creado_en").
		ToSql()
	if err != nil {
		return fmt.Errorf("build update event: %w", err)
	}
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&event.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}
