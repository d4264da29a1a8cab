package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNoRecipient = errors.New("no email address for user")

// Sender is satisfied by *sendgrid.Client.
type Sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// Recipients resolves a user id to a display name and email address.
type Recipients interface {
	Lookup(ctx context.Context, userID string) (name, email string, err error)
}

// EmailNotifier mails the user when a try-on is ready or has failed.
// Started and progress events are ignored.
type EmailNotifier struct {
	sender     Sender
	recipients Recipients
	from       *mail.Email
	logger     logrus.FieldLogger
}

func NewEmailNotifier(apiKey string, recipients Recipients, logger logrus.FieldLogger) *EmailNotifier {
	return NewEmailNotifierWithSender(sendgrid.NewSendClient(apiKey), recipients, logger)
}

func NewEmailNotifierWithSender(sender Sender, recipients Recipients, logger logrus.FieldLogger) *EmailNotifier {
	return &EmailNotifier{
		sender:     sender,
		recipients: recipients,
		from:       mail.NewEmail("Fitly App", "no-reply@tryonfusion.com"),
		logger:     logger,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, event models.Event) error {
	subject, text := emailContent(event)
	if subject == "" {
		return nil
	}

	name, address, err := n.recipients.Lookup(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to look up recipient: %w", err)
	}

	message := mail.NewSingleEmail(n.from, subject, mail.NewEmail(name, address), text, "<p>"+html.EscapeString(text)+"</p>")
	response, err := n.sender.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("failed to send email, status code: %d", response.StatusCode)
	}

	n.logger.WithFields(logrus.Fields{
		"task_id": event.TaskID,
		"event":   event.Type,
		"status":  response.StatusCode,
	}).Debug("try-on email sent")
	return nil
}

func emailContent(event models.Event) (subject, text string) {
	switch event.Type {
	case models.EventReady:
		return "Your try-on is ready", "Your personalized " + string(event.Kind) + " is ready. Open the app to see it in your gallery."
	case models.EventFailed:
		text = "We could not finish your try-on."
		if event.Message != "" {
			text = event.Message
		}
		if event.Refunded {
			text += " The units you spent have been returned to your balance."
		}
		return "Your try-on could not be completed", text
	}
	return "", ""
}

// MongoRecipients reads name and email from the users collection.
type MongoRecipients struct {
	users *mongo.Collection
}

func NewMongoRecipients(users *mongo.Collection) *MongoRecipients {
	return &MongoRecipients{users: users}
}

func (r *MongoRecipients) Lookup(ctx context.Context, userID string) (string, string, error) {
	objID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return "", "", fmt.Errorf("%w: invalid user id %q", ErrNoRecipient, userID)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var user models.User
	opts := options.FindOne().SetProjection(bson.M{"name": 1, "email": 1})
	if err := r.users.FindOne(ctx, bson.M{"_id": objID}, opts).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", "", ErrNoRecipient
		}
		return "", "", err
	}
	if user.Email == "" {
		return "", "", ErrNoRecipient
	}
	return user.Name, user.Email, nil
}
