package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"concurseiro-backend/internal/i18n"
	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/repository"
)

const (
	PlanReminderKey          = "plan_reminders"
	planReminderLastSentKey  = "plan_reminders_last_sent_at"
	planReminderInterval     = 20 * time.Hour
	notificationPollInterval = 1 * time.Hour
)

type reminderUserStore interface {
	ListReminderRecipients(ctx context.Context, optInKey, lastSentKey string) ([]repository.ReminderRecipient, error)
	SetNotificationTimestamp(ctx context.Context, userID uuid.UUID, key string, at time.Time) error
}

type reminderExamStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Exam, error)
}

type reminderMailer interface {
	SendPlanReminderEmail(ctx context.Context, to, name, examTitle string) error
}

// NotificationScheduler e-mails users who opted in and have not generated
// today's study plan for any of their exams.
type NotificationScheduler struct {
	users    reminderUserStore
	exams    reminderExamStore
	email    reminderMailer
	log      *zap.Logger
	stopChan chan struct{}
}

func NewNotificationScheduler(users *repository.UserRepo, exams *repository.ExamRepo, email *EmailService, log *zap.Logger) *NotificationScheduler {
	return &NotificationScheduler{
		users:    users,
		exams:    exams,
		email:    email,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

func (s *NotificationScheduler) Start() {
	if s.users == nil || s.exams == nil || s.email == nil {
		return
	}

	go s.loop(s.sendPlanReminders)
	s.log.Info("notification scheduler started")
}

func (s *NotificationScheduler) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *NotificationScheduler) loop(runFn func(ctx context.Context, now time.Time)) {
	// run on startup as well as by interval
	runFn(context.Background(), time.Now().UTC())

	ticker := time.NewTicker(notificationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			runFn(context.Background(), time.Now().UTC())
		}
	}
}

func (s *NotificationScheduler) sendPlanReminders(ctx context.Context, now time.Time) {
	recipients, err := s.users.ListReminderRecipients(ctx, PlanReminderKey, planReminderLastSentKey)
	if err != nil {
		s.log.Error("plan reminders: failed to list recipients", zap.Error(err))
		return
	}

	sent := 0
	for _, recipient := range recipients {
		if !shouldSendByLastSent(recipient.LastSent, planReminderInterval, now) {
			continue
		}

		exams, err := s.exams.ListByUser(ctx, recipient.ID)
		if err != nil {
			s.log.Error("plan reminders: failed to load exams", zap.String("user_id", recipient.ID.String()), zap.Error(err))
			continue
		}

		examTitle := reminderExam(exams, now)
		if examTitle == "" {
			continue
		}

		mailCtx := i18n.WithLocalizer(ctx, i18n.NewLocalizer(recipient.Language))
		if err := s.email.SendPlanReminderEmail(mailCtx, recipient.Email, recipient.FullName, examTitle); err != nil {
			s.log.Error("plan reminders: failed to send", zap.String("to", recipient.Email), zap.Error(err))
			continue
		}

		if err := s.users.SetNotificationTimestamp(ctx, recipient.ID, planReminderLastSentKey, now); err != nil {
			s.log.Error("plan reminders: failed to persist last sent at", zap.String("user_id", recipient.ID.String()), zap.Error(err))
		}
		sent++
	}

	if sent > 0 {
		s.log.Info("plan reminders sent", zap.Int("count", sent))
	}
}

// reminderExam returns the title of the exam to mention in a reminder, or ""
// when no reminder is due: the user has no exams or already has a plan for
// today on one of them. The most recently updated exam wins.
func reminderExam(exams []models.Exam, now time.Time) string {
	var latest *models.Exam
	for i := range exams {
		if exams[i].Data.ActivePlan(now) != nil {
			return ""
		}
		if latest == nil || exams[i].UpdatedAt.After(latest.UpdatedAt) {
			latest = &exams[i]
		}
	}
	if latest == nil {
		return ""
	}
	return latest.Data.Title
}

func shouldSendByLastSent(lastSentRaw string, minInterval time.Duration, now time.Time) bool {
	if lastSentRaw == "" {
		return true
	}

	lastSentAt, err := time.Parse(time.RFC3339, lastSentRaw)
	if err != nil {
		return true
	}

	return now.Sub(lastSentAt) >= minInterval
}
