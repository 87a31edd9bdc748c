package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/serverfleet/serverfleet/internal/db/models"
)

type fakeNotifyStore struct {
	due    []*models.ServerInstance
	marked map[string]string // instance id -> secret
}

func (f *fakeNotifyStore) ListDueForNotification(_ context.Context, _ time.Time) ([]*models.ServerInstance, error) {
	return f.due, nil
}

func (f *fakeNotifyStore) MarkNotified(_ context.Context, instanceID, secret string) error {
	if f.marked == nil {
		f.marked = make(map[string]string)
	}
	f.marked[instanceID] = secret
	return nil
}

type sentMail struct {
	subject    string
	body       string
	recipients []string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(subject, body string, recipients []string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{subject, body, recipients})
	return nil
}

func dueInstance() *models.ServerInstance {
	return &models.ServerInstance{
		ID:                  "inst-1",
		UserID:              "owner@example.com",
		ServerName:          "sandbox-ab12",
		Usage:               "Throwaway sandbox",
		NotifyBeforeDestroy: true,
		RemovalAt:           time.Now().Add(48 * time.Hour),
	}
}

func TestProlongNotifierSendsLinkAndMarks(t *testing.T) {
	store := &fakeNotifyStore{due: []*models.ServerInstance{dueInstance()}}
	mailer := &fakeMailer{}

	n := NewProlongNotifier(store, mailer, MailAddressBook{}, nil, "https://fleet.example.com/", 12, time.Minute)
	n.RunOnce(context.Background())

	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(mailer.sent))
	}
	mail := mailer.sent[0]
	if mail.recipients[0] != "owner@example.com" {
		t.Errorf("recipient = %q", mail.recipients[0])
	}

	secret, ok := store.marked["inst-1"]
	if !ok || secret == "" {
		t.Fatal("instance must be marked notified with a secret")
	}
	wantLink := "https://fleet.example.com/v1/instances/inst-1/prolong/" + secret
	if !strings.Contains(mail.body, wantLink) {
		t.Errorf("mail body missing prolong link %q:\n%s", wantLink, mail.body)
	}
}

func TestProlongNotifierMarksEvenWhenDeliveryFails(t *testing.T) {
	store := &fakeNotifyStore{due: []*models.ServerInstance{dueInstance()}}
	mailer := &fakeMailer{err: errors.New("smtp down")}

	escalated := 0
	escalate := func(_, _ string) { escalated++ }

	n := NewProlongNotifier(store, mailer, MailAddressBook{}, escalate, "https://fleet.example.com", 12, time.Minute)
	n.RunOnce(context.Background())

	if _, ok := store.marked["inst-1"]; !ok {
		t.Error("instance must be marked notified even when mail fails")
	}
	if escalated != 1 {
		t.Errorf("expected 1 escalation, got %d", escalated)
	}
}

func TestProlongNotifierUnresolvableAddressEscalates(t *testing.T) {
	inst := dueInstance()
	inst.UserID = "no-mail-user"
	store := &fakeNotifyStore{due: []*models.ServerInstance{inst}}
	mailer := &fakeMailer{}

	escalated := 0
	n := NewProlongNotifier(store, mailer, MailAddressBook{}, func(_, _ string) { escalated++ }, "https://fleet.example.com", 12, time.Minute)
	n.RunOnce(context.Background())

	if len(mailer.sent) != 0 {
		t.Error("no mail must go out for an unresolvable address")
	}
	if escalated != 1 {
		t.Errorf("expected 1 escalation, got %d", escalated)
	}
	if _, ok := store.marked["inst-1"]; !ok {
		t.Error("instance must still be marked to avoid a retry storm")
	}
}

func TestMailAddressBook(t *testing.T) {
	if _, err := (MailAddressBook{}).EmailFor(context.Background(), "plain-id"); err == nil {
		t.Error("expected error for non-mail user id")
	}
	got, err := (MailAddressBook{}).EmailFor(context.Background(), "a@b.c")
	if err != nil || got != "a@b.c" {
		t.Errorf("EmailFor = %q, %v", got, err)
	}
}
