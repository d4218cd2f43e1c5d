package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/noah-isme/eventos-api/internal/models"
	"github.com/noah-isme/eventos-api/pkg/broker"
	"github.com/noah-isme/eventos-api/pkg/export"
	"github.com/noah-isme/eventos-api/pkg/jobs"
	"github.com/noah-isme/eventos-api/pkg/mailer"
)

// Job types handled by NotificationWorker. Each channel is its own job so a
// failing mail server does not replay the broker publish.
const (
	JobTypePaymentEmail = "payment.status_changed.email"
	JobTypePaymentEvent = "payment.status_changed.publish"

	paymentEventType = "payment.status_changed"

	channelEmail = "email"
	channelKafka = "kafka"
	channelQueue = "queue"
)

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type notificationPayload struct {
	Change models.PaymentStatusChange
	Trace  propagation.MapCarrier
}

// NotificationService schedules payment notifications once a decision has committed.
type NotificationService struct {
	queue   jobDispatcher
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(queue jobDispatcher, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{queue: queue, metrics: metrics, logger: logger}
}

// NotifyStatusChange enqueues the broker event and, for validated payments, the student email.
func (s *NotificationService) NotifyStatusChange(ctx context.Context, change models.PaymentStatusChange) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	payload := notificationPayload{Change: change, Trace: carrier}

	types := []string{JobTypePaymentEvent}
	if change.Status == models.PaymentStatusValidated && change.StudentEmail != "" {
		types = append(types, JobTypePaymentEmail)
	}

	var failed []string
	for _, jobType := range types {
		job := jobs.Job{ID: uuid.NewString(), Type: jobType, Payload: payload}
		if err := s.queue.Enqueue(job); err != nil {
			s.metrics.RecordNotification(channelQueue, NotificationFailed)
			s.logger.Warn("failed to enqueue payment notification",
				zap.Int64("payment_id", change.PaymentID),
				zap.String("type", jobType),
				zap.Error(err),
			)
			failed = append(failed, jobType)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("enqueue %s for payment %d", strings.Join(failed, ","), change.PaymentID)
	}
	return nil
}

// NotificationWorker delivers queued payment notifications.
type NotificationWorker struct {
	mailer    mailer.Sender
	publisher broker.Publisher
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewNotificationWorker constructs a worker. Nil collaborators fall back to no-ops.
func NewNotificationWorker(sender mailer.Sender, publisher broker.Publisher, metrics *MetricsService, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = mailer.NewLogMailer(logger)
	}
	if publisher == nil {
		publisher = broker.NoopPublisher{}
	}
	return &NotificationWorker{mailer: sender, publisher: publisher, metrics: metrics, logger: logger}
}

// Handle processes a queue job.
func (w *NotificationWorker) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(notificationPayload)
	if !ok {
		w.metrics.RecordNotification(channelQueue, NotificationSkipped)
		w.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, payload.Trace)

	switch job.Type {
	case JobTypePaymentEmail:
		return w.sendEmail(ctx, payload.Change)
	case JobTypePaymentEvent:
		return w.publish(ctx, payload.Change)
	default:
		w.metrics.RecordNotification(channelQueue, NotificationSkipped)
		w.logger.Warn("unknown notification job type", zap.String("type", job.Type))
		return nil
	}
}

// Discarded records a job that exhausted its retries.
func (w *NotificationWorker) Discarded(job jobs.Job, err error) {
	channel := channelQueue
	switch job.Type {
	case JobTypePaymentEmail:
		channel = channelEmail
	case JobTypePaymentEvent:
		channel = channelKafka
	}
	w.metrics.RecordNotification(channel, NotificationDiscarded)
	w.logger.Error("payment notification discarded",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
}

func (w *NotificationWorker) sendEmail(ctx context.Context, change models.PaymentStatusChange) error {
	receipt := export.Receipt{
		PaymentID:    change.PaymentID,
		EnrollmentID: change.EnrollmentID,
		StudentName:  change.StudentName,
		StudentEmail: change.StudentEmail,
		EventTitle:   change.EventTitle,
		Method:       change.Method,
		Amount:       change.Amount.StringFixed(2),
		Observations: deref(change.Observations),
	}
	if change.ApprovedAt != nil {
		receipt.ApprovedAt = *change.ApprovedAt
	} else {
		receipt.ApprovedAt = change.OccurredAt
	}
	pdf, err := export.RenderReceipt(receipt)
	if err != nil {
		w.metrics.RecordNotification(channelEmail, NotificationFailed)
		return fmt.Errorf("render receipt for payment %d: %w", change.PaymentID, err)
	}

	msg := mailer.Message{
		To:      change.StudentEmail,
		Subject: fmt.Sprintf("Pago validado - %s", change.EventTitle),
		Body: fmt.Sprintf("Hola %s,\n\nTu pago de %s para \"%s\" fue validado y tu inscripcion esta aceptada.\n\nAdjuntamos el comprobante del pago #%d.\n",
			change.StudentName, change.Amount.StringFixed(2), change.EventTitle, change.PaymentID),
		Attachments: []mailer.Attachment{{
			Filename:    fmt.Sprintf("comprobante-pago-%d.pdf", change.PaymentID),
			ContentType: "application/pdf",
			Data:        pdf,
		}},
	}
	if err := w.mailer.Send(ctx, msg); err != nil {
		w.metrics.RecordNotification(channelEmail, NotificationFailed)
		return fmt.Errorf("send payment email for payment %d: %w", change.PaymentID, err)
	}

	w.metrics.RecordNotification(channelEmail, NotificationSent)
	w.logger.Info("payment email sent", zap.Int64("payment_id", change.PaymentID))
	return nil
}

type paymentEvent struct {
	Type string `json:"tipo"`
	models.PaymentStatusChange
}

func (w *NotificationWorker) publish(ctx context.Context, change models.PaymentStatusChange) error {
	event := paymentEvent{Type: paymentEventType, PaymentStatusChange: change}
	if err := w.publisher.Publish(ctx, strconv.FormatInt(change.PaymentID, 10), event); err != nil {
		w.metrics.RecordNotification(channelKafka, NotificationFailed)
		return fmt.Errorf("publish payment %d: %w", change.PaymentID, err)
	}
	w.metrics.RecordNotification(channelKafka, NotificationSent)
	return nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
