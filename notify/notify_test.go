package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/raushankrgupta/tryon-orchestrator/utils"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func readyEvent() models.Event {
	return models.Event{
		Type:      models.EventReady,
		TaskID:    "task-1",
		UserID:    "user-1",
		ProductID: "product-1",
		Kind:      models.KindImage,
		State:     models.StateCompleted,
		Media:     []string{"https://v3.fal.media/a.png"},
	}
}

func TestNatsNotifier_PublishesOnTypedSubject(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNatsNotifier(pub)

	require.NoError(t, n.Notify(context.Background(), readyEvent()))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "tryon.ready", pub.msgs[0].subject)

	var decoded models.Event
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &decoded))
	assert.Equal(t, "task-1", decoded.TaskID)
	assert.Equal(t, []string{"https://v3.fal.media/a.png"}, decoded.Media)
}

func TestNatsNotifier_PublishError(t *testing.T) {
	n := NewNatsNotifier(&fakePublisher{err: errors.New("nats: connection closed")})
	err := n.Notify(context.Background(), readyEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tryon.ready")
}

type fakeSender struct {
	sent   []*mail.SGMailV3
	status int
}

func (s *fakeSender) Send(email *mail.SGMailV3) (*rest.Response, error) {
	s.sent = append(s.sent, email)
	return &rest.Response{StatusCode: s.status}, nil
}

type staticRecipients map[string]string

func (r staticRecipients) Lookup(_ context.Context, userID string) (string, string, error) {
	email, ok := r[userID]
	if !ok {
		return "", "", ErrNoRecipient
	}
	return "Test User", email, nil
}

func TestEmailNotifier_SendsReadyAndFailed(t *testing.T) {
	sender := &fakeSender{status: 202}
	n := NewEmailNotifierWithSender(sender, staticRecipients{"user-1": "user@example.com"}, utils.DiscardLogger())

	require.NoError(t, n.Notify(context.Background(), readyEvent()))

	failed := readyEvent()
	failed.Type = models.EventFailed
	failed.Message = "face not detected"
	failed.Refunded = true
	require.NoError(t, n.Notify(context.Background(), failed))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "Your try-on is ready", sender.sent[0].Subject)
	assert.Equal(t, "user@example.com", sender.sent[0].Personalizations[0].To[0].Address)
	assert.Contains(t, sender.sent[1].Content[0].Value, "face not detected")
	assert.Contains(t, sender.sent[1].Content[0].Value, "returned to your balance")
}

func TestEmailNotifier_EscapesProviderTextInHTML(t *testing.T) {
	sender := &fakeSender{status: 202}
	n := NewEmailNotifierWithSender(sender, staticRecipients{"user-1": "user@example.com"}, utils.DiscardLogger())

	failed := readyEvent()
	failed.Type = models.EventFailed
	failed.Message = `<img src=x onerror="alert(1)"> & more`
	require.NoError(t, n.Notify(context.Background(), failed))

	require.Len(t, sender.sent, 1)
	require.Len(t, sender.sent[0].Content, 2)
	assert.Equal(t, "text/html", sender.sent[0].Content[1].Type)
	body := sender.sent[0].Content[1].Value
	assert.NotContains(t, body, "<img")
	assert.Contains(t, body, "&lt;img src=x onerror=&#34;alert(1)&#34;&gt; &amp; more")
	assert.Contains(t, sender.sent[0].Content[0].Value, "<img", "plain text part is sent as is")
}

func TestEmailNotifier_IgnoresStartedAndProgress(t *testing.T) {
	sender := &fakeSender{status: 202}
	n := NewEmailNotifierWithSender(sender, staticRecipients{}, utils.DiscardLogger())

	for _, typ := range []models.EventType{models.EventStarted, models.EventProgress} {
		event := readyEvent()
		event.Type = typ
		require.NoError(t, n.Notify(context.Background(), event))
	}
	assert.Empty(t, sender.sent)
}

func TestEmailNotifier_Errors(t *testing.T) {
	n := NewEmailNotifierWithSender(&fakeSender{status: 202}, staticRecipients{}, utils.DiscardLogger())
	require.ErrorIs(t, n.Notify(context.Background(), readyEvent()), ErrNoRecipient)

	n = NewEmailNotifierWithSender(&fakeSender{status: 401}, staticRecipients{"user-1": "user@example.com"}, utils.DiscardLogger())
	require.Error(t, n.Notify(context.Background(), readyEvent()))
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &fakePublisher{}
	broken := &fakePublisher{err: errors.New("down")}
	m := Multi{NewNatsNotifier(broken), NewNatsNotifier(ok), LogNotifier{Logger: utils.DiscardLogger()}}

	err := m.Notify(context.Background(), readyEvent())
	require.Error(t, err)
	assert.Len(t, ok.msgs, 1)
}
