package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/eventos-api/internal/models"
	"github.com/noah-isme/eventos-api/pkg/dberrors"
)

const paymentColumns = "id, id_inscripcion, forma_pago, comprobante_url, referencia_externa, estado, monto, fecha_pago, fecha_aprobacion, id_aprobador, observaciones"

const paymentDetailColumns = `p.id, p.id_inscripcion, p.forma_pago, p.comprobante_url, p.referencia_externa, p.estado, p.monto,
        p.fecha_pago, p.fecha_aprobacion, p.id_aprobador, p.observaciones,
        u.id AS id_usuario, u.nombre || ' ' || u.apellido AS estudiante_nombre, u.correo AS estudiante_correo,
        e.id AS id_evento, e.titulo AS evento_titulo`

const paymentDetailFrom = `pago p
        JOIN inscripcion i ON i.id = p.id_inscripcion
        JOIN usuario u ON u.id = i.id_usuario
        JOIN evento e ON e.id = i.id_evento`

// PaymentRepository persists payments and applies reviewer decisions.
type PaymentRepository struct {
	db *sqlx.DB
	sb squirrel.StatementBuilderType
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db, sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

// Create records a pending payment for an enrollment. The enrollment row is
// locked for the duration of the transaction so concurrent submissions for
// the same enrollment are serialized before the duplicate read.
func (r *PaymentRepository) Create(ctx context.Context, payment models.NewPayment) (id int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create payment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var enrollmentID int64
	err = tx.GetContext(ctx, &enrollmentID, `SELECT id FROM inscripcion WHERE id = $1 FOR UPDATE`, payment.EnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrUnknownEnrollment
			return 0, err
		}
		err = fmt.Errorf("lock enrollment: %w", err)
		return 0, err
	}

	var existing int64
	err = tx.GetContext(ctx, &existing, `SELECT id FROM pago WHERE id_inscripcion = $1 LIMIT 1`, payment.EnrollmentID)
	switch {
	case err == nil:
		err = ErrDuplicatePayment
		return 0, err
	case !errors.Is(err, sql.ErrNoRows):
		err = fmt.Errorf("check existing payment: %w", err)
		return 0, err
	}

	const insert = `INSERT INTO pago (id_inscripcion, forma_pago, comprobante_url, referencia_externa, estado, monto, fecha_pago)
        VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING id`
	err = tx.GetContext(ctx, &id, insert,
		payment.EnrollmentID, payment.Method, payment.ReceiptPath, payment.ExternalRef, models.PaymentStatusPending, payment.Amount)
	if err != nil {
		err = mapPaymentInsertError(err)
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit create payment: %w", err)
		return 0, err
	}
	return id, nil
}

func mapPaymentInsertError(err error) error {
	switch {
	case dberrors.IsUniqueViolation(err, "uq_pago_inscripcion"):
		return ErrDuplicatePayment
	case dberrors.IsForeignKeyViolation(err, "fk_pago_forma_pago"):
		return ErrUnknownMethod
	case dberrors.IsForeignKeyViolation(err, "fk_pago_inscripcion"):
		return ErrUnknownEnrollment
	default:
		return fmt.Errorf("insert payment: %w", err)
	}
}

// ApplyDecision moves a pending payment to a reviewer outcome. A validated
// payment also accepts its enrollment in the same transaction. The returned
// change carries what the post-commit notification needs.
func (r *PaymentRepository) ApplyDecision(ctx context.Context, decision models.PaymentDecision) (change *models.PaymentStatusChange, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin payment decision: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.PaymentDetail
	err = tx.GetContext(ctx, &current, `SELECT `+paymentDetailColumns+` FROM `+paymentDetailFrom+` WHERE p.id = $1 FOR UPDATE OF p`, decision.PaymentID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("load payment for decision: %w", err)
		}
		return nil, err
	}
	if !current.Status.CanTransitionTo(decision.Status) {
		err = ErrPaymentFinalized
		return nil, err
	}

	var approvedAt *time.Time
	if decision.Status == models.PaymentStatusValidated {
		ts := decision.DecidedAt
		approvedAt = &ts
	}

	const update = `UPDATE pago SET estado = $2, id_aprobador = $3, fecha_aprobacion = $4, observaciones = $5 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, update, decision.PaymentID, decision.Status, decision.ApproverID, approvedAt, decision.Observations); err != nil {
		if dberrors.IsForeignKeyViolation(err, "fk_pago_aprobador") {
			err = ErrUnknownUser
			return nil, err
		}
		err = fmt.Errorf("update payment status: %w", err)
		return nil, err
	}

	if decision.Status == models.PaymentStatusValidated {
		const accept = `UPDATE inscripcion SET estado = $2 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, accept, current.EnrollmentID, models.EnrollmentStatusAccepted); err != nil {
			err = fmt.Errorf("accept enrollment: %w", err)
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit payment decision: %w", err)
		return nil, err
	}

	return &models.PaymentStatusChange{
		PaymentID:    current.ID,
		EnrollmentID: current.EnrollmentID,
		UserID:       current.UserID,
		EventID:      current.EventID,
		Status:       decision.Status,
		Method:       current.Method,
		Amount:       current.Amount,
		StudentName:  current.StudentName,
		StudentEmail: current.StudentEmail,
		EventTitle:   current.EventTitle,
		ApproverID:   decision.ApproverID,
		ApprovedAt:   approvedAt,
		Observations: decision.Observations,
		OccurredAt:   decision.DecidedAt,
	}, nil
}

// FindDetailByID returns a payment joined with its student and event.
func (r *PaymentRepository) FindDetailByID(ctx context.Context, id int64) (*models.PaymentDetail, error) {
	query := `SELECT ` + paymentDetailColumns + ` FROM ` + paymentDetailFrom + ` WHERE p.id = $1`
	var detail models.PaymentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return &detail, nil
}

// ListByEnrollment returns the payments recorded for an enrollment.
func (r *PaymentRepository) ListByEnrollment(ctx context.Context, enrollmentID int64) ([]models.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM pago WHERE id_inscripcion = $1 ORDER BY fecha_pago DESC`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment payments: %w", err)
	}
	return payments, nil
}

// ListPending returns the review queue, oldest first.
func (r *PaymentRepository) ListPending(ctx context.Context) ([]models.PaymentDetail, error) {
	status := models.PaymentStatusPending
	return r.list(ctx, models.PaymentReportFilter{Status: &status}, "p.fecha_pago ASC")
}

// ListForReport returns payments for export, optionally filtered by status.
func (r *PaymentRepository) ListForReport(ctx context.Context, filter models.PaymentReportFilter) ([]models.PaymentDetail, error) {
	return r.list(ctx, filter, "p.fecha_pago DESC")
}

func (r *PaymentRepository) list(ctx context.Context, filter models.PaymentReportFilter, orderBy string) ([]models.PaymentDetail, error) {
	builder := r.sb.Select(paymentDetailColumns).From(paymentDetailFrom).OrderBy(orderBy, "p.id")
	if filter.Status != nil {
		builder = builder.Where(squirrel.Eq{"p.estado": *filter.Status})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list payments: %w", err)
	}
	var payments []models.PaymentDetail
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}
