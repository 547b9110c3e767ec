package services

import (
	"context"
	"fmt"
	"log"

	"splitpay-backend/config"
	"splitpay-backend/database"
	"splitpay-backend/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"google.golang.org/api/option"
)

// NotificationService fans out push and email notifications. Everything here
// is fire-and-forget: a delivery failure is logged and never surfaced to the
// state transition that triggered it.
type NotificationService struct {
	messaging *messaging.Client
}

var notifService *NotificationService

func GetNotificationService() *NotificationService {
	if notifService == nil {
		notifService = &NotificationService{}
		notifService.initFirebase()
	}
	return notifService
}

func (ns *NotificationService) initFirebase() {
	app, err := firebase.NewApp(context.Background(), nil,
		option.WithCredentialsFile(config.AppConfig.FirebaseCredPath))
	if err != nil {
		log.Printf("⚠️  Firebase not configured, push notifications disabled: %v", err)
		return
	}
	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Printf("⚠️  Firebase messaging unavailable: %v", err)
		return
	}
	ns.messaging = client
}

// Notify delivers one event to one user across every channel they have.
func (ns *NotificationService) Notify(userID uuid.UUID, eventKind string, payload map[string]string) {
	go ns.deliver(userID, eventKind, payload)
}

func (ns *NotificationService) deliver(userID uuid.UUID, eventKind string, payload map[string]string) {
	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		log.Printf("⚠️  Notification skipped, unknown user %s", userID)
		return
	}

	title, body := renderEvent(eventKind, payload)
	ns.sendPush(user.FCMToken, title, body, payload)
	ns.sendEmail(user.Email, user.Name, title, fmt.Sprintf("<p>%s</p>", body))
}

func renderEvent(eventKind string, payload map[string]string) (string, string) {
	switch eventKind {
	case "split_invite":
		return "You've been added to a split", fmt.Sprintf("You were added to \"%s\"", payload["title"])
	case "participant_status":
		return "Split update", fmt.Sprintf("A participant is now %s", payload["status"])
	case "funds_locked":
		return "Funds locked", "A participant locked their share in escrow"
	case "funds_released":
		return "Split settled", fmt.Sprintf("\"%s\" is complete, escrow was released", payload["title"])
	case "escrow_refunded":
		return "Escrow refunded", fmt.Sprintf("Your %s %s was returned", payload["amount"], payload["currency"])
	case "payment_reminder":
		return "Payment reminder", fmt.Sprintf("You still owe %s %s for \"%s\"", payload["amount"], payload["currency"], payload["title"])
	default:
		return "Split update", "Something changed on one of your splits"
	}
}

func (ns *NotificationService) sendPush(fcmToken, title, body string, data map[string]string) {
	if fcmToken == "" || ns.messaging == nil {
		return
	}

	msg := &messaging.Message{
		Token: fcmToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	if _, err := ns.messaging.Send(context.Background(), msg); err != nil {
		log.Printf("❌ Push send error: %v", err)
		return
	}
	log.Printf("✅ Push notification sent: %s", title)
}

func (ns *NotificationService) sendEmail(toEmail, toName, subject, htmlBody string) {
	if config.AppConfig.SendGridAPIKey == "" {
		log.Printf("⚠️  SendGrid API key not set, skipping email to %s", toEmail)
		return
	}

	from := mail.NewEmail(config.AppConfig.AppName, config.AppConfig.SendGridFrom)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, "", htmlBody)

	client := sendgrid.NewSendClient(config.AppConfig.SendGridAPIKey)
	resp, err := client.Send(message)
	if err != nil {
		log.Printf("❌ Email send error: %v", err)
		return
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Printf("✅ Email sent to %s", toEmail)
	} else {
		log.Printf("⚠️  SendGrid returned status: %d", resp.StatusCode)
	}
}
