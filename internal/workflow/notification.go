package workflow

import (
	"context"
	"fmt"

	"github.com/carebook/clinic-ledger/internal/directory"
	"github.com/carebook/clinic-ledger/pkg/logger"
	"github.com/carebook/clinic-ledger/pkg/types"
)

// NotificationService delivers patient-facing messages
type NotificationService interface {
	SendEmail(to, subject, body string) error
	SendPushNotification(userID, title, message string) error
}

// LogNotificationService implements NotificationService by logging only
type LogNotificationService struct {
	logger *logger.Logger
}

// NewLogNotificationService creates a log-only notification service
func NewLogNotificationService(log *logger.Logger) *LogNotificationService {
	return &LogNotificationService{logger: log}
}

// SendEmail sends an email notification
func (n *LogNotificationService) SendEmail(to, subject, body string) error {
	// TODO: Integrate with the clinic's mail relay
	n.logger.Infof("Sending email to %s with subject: %s", to, subject)
	return nil
}

// SendPushNotification sends a push notification
func (n *LogNotificationService) SendPushNotification(userID, title, message string) error {
	// TODO: Integrate with a push delivery service
	n.logger.Infof("Sending push notification to user %s: %s - %s", userID, title, message)
	return nil
}

// AppointmentNotificationManager turns appointment lifecycle events into
// patient-facing messages. Delivery failures are logged, never propagated.
type AppointmentNotificationManager struct {
	notificationService NotificationService
	directory           *directory.Service
	logger              *logger.Logger
}

// NewAppointmentNotificationManager creates a new appointment notification manager
func NewAppointmentNotificationManager(
	notificationService NotificationService,
	dir *directory.Service,
	log *logger.Logger,
) *AppointmentNotificationManager {
	return &AppointmentNotificationManager{
		notificationService: notificationService,
		directory:           dir,
		logger:              log,
	}
}

// BookingReceived acknowledges a freshly submitted booking
func (anm *AppointmentNotificationManager) BookingReceived(ctx context.Context, apt *types.Appointment) {
	doctorName := anm.directory.DisplayName(ctx, apt.DoctorID)

	title := "Booking Received"
	message := fmt.Sprintf("Your appointment request with %s on %s at %s is awaiting confirmation",
		doctorName, apt.Date, apt.Time)

	if err := anm.notificationService.SendPushNotification(apt.PatientID, title, message); err != nil {
		anm.logger.Errorf("Failed to send booking push notification: %v", err)
	}
}

// StatusChanged notifies the patient after a status transition commits
func (anm *AppointmentNotificationManager) StatusChanged(ctx context.Context, apt *types.Appointment) {
	doctorName := anm.directory.DisplayName(ctx, apt.DoctorID)

	var subject, body, pushTitle, pushMessage string
	switch apt.Status {
	case types.StatusConfirmed:
		subject = "Appointment Confirmed"
		body = fmt.Sprintf(
			"Your appointment has been confirmed.\n\nAppointment Details:\n- Doctor: %s\n- Date: %s\n- Time: %s",
			doctorName, apt.Date, apt.Time)
		pushTitle = "Appointment Confirmed"
		pushMessage = fmt.Sprintf("Your appointment with %s on %s at %s has been confirmed",
			doctorName, apt.Date, apt.Time)

	case types.StatusCancelled:
		subject = "Appointment Cancelled"
		body = fmt.Sprintf(
			"Your appointment with %s on %s at %s has been cancelled.\n\nPlease contact the clinic to rebook.",
			doctorName, apt.Date, apt.Time)
		pushTitle = "Appointment Cancelled"
		pushMessage = fmt.Sprintf("Your appointment on %s has been cancelled", apt.Date)

	default:
		return
	}

	// TODO: Look up the patient's contact address from the users profile
	patientEmail := apt.PatientID

	if err := anm.notificationService.SendEmail(patientEmail, subject, body); err != nil {
		anm.logger.Errorf("Failed to send status change email: %v", err)
	}
	if err := anm.notificationService.SendPushNotification(apt.PatientID, pushTitle, pushMessage); err != nil {
		anm.logger.Errorf("Failed to send status change push notification: %v", err)
	}
}
