package utils

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// SMTPConfig holds the outgoing mail settings
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
}

// SMTPConfigFromEnv reads SMTP_HOST, SMTP_PORT, SMTP_USER and SMTP_PASS
func SMTPConfigFromEnv() SMTPConfig {
	port := 2525
	if portStr := os.Getenv("SMTP_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}
	return SMTPConfig{
		Host: os.Getenv("SMTP_HOST"),
		Port: port,
		User: os.Getenv("SMTP_USER"),
		Pass: os.Getenv("SMTP_PASS"),
	}
}

// Notifier tells members and operators about payouts and payments through in-app
// records, FCM push and email. Every channel is optional.
type Notifier struct {
	notifications *mongo.Collection
	members       repositories.MemberStore
	messaging     *messaging.Client
	smtp          SMTPConfig
	adminEmails   []string
	logger        *zap.Logger
}

// NewNotifier builds a notifier. db and app may be nil to disable in-app records and push.
func NewNotifier(ctx context.Context, db *mongo.Database, members repositories.MemberStore, app *firebase.App, smtp SMTPConfig, adminEmails []string, logger *zap.Logger) *Notifier {
	n := &Notifier{
		members:     members,
		smtp:        smtp,
		adminEmails: adminEmails,
		logger:      logging.Named(logger, "notifier"),
	}
	if db != nil {
		n.notifications = db.Collection("notifications")
	}
	if app != nil {
		client, err := app.Messaging(ctx)
		if err != nil {
			n.logger.Warn("push notifications disabled", zap.Error(err))
		} else {
			n.messaging = client
		}
	}
	return n
}

// SaveNotification saves a notification to the database
func (n *Notifier) SaveNotification(ctx context.Context, memberID primitive.ObjectID, title, message, notifType string, data interface{}) error {
	if n.notifications == nil {
		return nil
	}
	notification := models.Notification{
		ID:        primitive.NewObjectID(),
		MemberID:  memberID,
		Title:     title,
		Message:   message,
		Type:      notifType,
		Data:      data,
		IsRead:    false,
		CreatedAt: time.Now(),
	}
	_, err := n.notifications.InsertOne(ctx, notification)
	return err
}

// SendPush sends a Firebase Cloud Messaging notification to a member
func (n *Notifier) SendPush(ctx context.Context, member *models.Member, title, message, notifType string, data map[string]string) error {
	if n.messaging == nil {
		return nil
	}
	if member.FCMToken == "" {
		n.logger.Debug("member has no FCM token", zap.String("member_id", member.ID.Hex()))
		return nil
	}

	notificationData := map[string]string{
		"type":      notifType,
		"memberId":  member.ID.Hex(),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	for key, value := range data {
		notificationData[key] = value
	}

	fcmMessage := &messaging.Message{
		Token: member.FCMToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  message,
		},
		Data: notificationData,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     "default",
				ChannelID: "network_fcm_channel",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: title,
						Body:  message,
					},
					Sound: "default",
				},
			},
		},
	}

	response, err := n.messaging.Send(ctx, fcmMessage)
	if err != nil {
		return fmt.Errorf("failed to send FCM notification: %w", err)
	}
	n.logger.Debug("FCM notification sent", zap.String("member_id", member.ID.Hex()), zap.String("response", response))
	return nil
}

// SendEmail sends a plain text email through the configured SMTP relay
func (n *Notifier) SendEmail(to []string, subject, body string) error {
	if n.smtp.Host == "" || len(to) == 0 {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("From", n.smtp.User)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	d := gomail.NewDialer(n.smtp.Host, n.smtp.Port, n.smtp.User, n.smtp.Pass)
	return d.DialAndSend(m)
}

func (n *Notifier) notifyMember(ctx context.Context, memberID primitive.ObjectID, title, message, notifType string, data map[string]string) {
	if err := n.SaveNotification(ctx, memberID, title, message, notifType, data); err != nil {
		n.logger.Warn("failed to save notification", zap.String("member_id", memberID.Hex()), zap.Error(err))
	}
	member, err := n.members.GetMember(ctx, memberID)
	if err != nil {
		n.logger.Warn("failed to load member for notification", zap.String("member_id", memberID.Hex()), zap.Error(err))
		return
	}
	if err := n.SendPush(ctx, member, title, message, notifType, data); err != nil {
		n.logger.Warn("push notification failed", zap.String("member_id", memberID.Hex()), zap.Error(err))
	}
	if member.Email != "" {
		if err := n.SendEmail([]string{member.Email}, title, fmt.Sprintf("Dear %s,\n\n%s\n\nBest regards,\nThe Network Team", member.FullName, message)); err != nil {
			n.logger.Warn("email notification failed", zap.String("member_id", memberID.Hex()), zap.Error(err))
		}
	}
}

// PayoutPaid tells a referrer that a commission reached its payout destination
func (n *Notifier) PayoutPaid(ctx context.Context, record *models.CommissionRecord) {
	amount := FormatMinorUnits(record.Amount, record.Currency)
	n.notifyMember(ctx, record.ReferrerID,
		"Commission paid",
		fmt.Sprintf("Your %s commission of %s for %s has been paid.", strings.ReplaceAll(string(record.CommissionType), "_", " "), amount, record.Period),
		models.NotificationTypePayoutPaid,
		map[string]string{
			"commissionId": record.ID.Hex(),
			"amount":       amount,
			"period":       record.Period,
		},
	)
}

// PayoutBatchFinished emails the batch summary to the operators
func (n *Notifier) PayoutBatchFinished(ctx context.Context, report *models.PayoutBatchReport) {
	currency := ""
	if report.Balance != nil {
		currency = report.Balance.Currency
	}
	var body strings.Builder
	fmt.Fprintf(&body, "Payout batch for period %s finished.\n\n", report.Period)
	fmt.Fprintf(&body, "Succeeded: %d\nFailed: %d\nSkipped: %d\nTotal paid: %s\n",
		report.Summary.Succeeded, report.Summary.Failed, report.Summary.Skipped,
		FormatMinorUnits(report.Summary.TotalAmount, currency))
	for _, warning := range report.Warnings {
		fmt.Fprintf(&body, "\nWarning: %s", warning)
	}
	if err := n.SendEmail(n.adminEmails, "Payout batch "+report.Period, body.String()); err != nil {
		n.logger.Warn("failed to email payout summary", zap.Error(err))
	}
}

// IntentUpdated tells a member that a crypto payment was received in full
func (n *Notifier) IntentUpdated(ctx context.Context, intent *models.PaymentIntent, previous models.IntentStatus) {
	if intent.Status != models.IntentStatusCompleted || previous == models.IntentStatusCompleted {
		return
	}
	n.notifyMember(ctx, intent.MemberID,
		"Payment received",
		fmt.Sprintf("We received your %s payment of %s.", intent.IntentType, FormatMinorUnits(intent.ReceivedAmount, intent.Currency)),
		models.NotificationTypePaymentReceived,
		map[string]string{
			"intentId": intent.ID.Hex(),
			"late":     strconv.FormatBool(intent.IsLate),
		},
	)
}
