// prolong_notifier.go implements the ProlongNotifier background job, which
// warns owners of instances approaching their removal deadline and hands them
// a single-use prolong link. Notification state is persisted on the instance
// (info_mail_sent) so each instance is warned exactly once per lifetime
// extension, even across restarts. Marking happens regardless of delivery
// outcome; a failed mail is logged and escalated but never retried by the
// sweep itself.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/serverfleet/serverfleet/internal/db/models"
	"github.com/serverfleet/serverfleet/internal/notify"
	"github.com/serverfleet/serverfleet/internal/telemetry"
)

const defaultNotifyWindowWeeks = 12

// NotifyInstanceStore is the instance persistence the notifier needs.
type NotifyInstanceStore interface {
	ListDueForNotification(ctx context.Context, cutoff time.Time) ([]*models.ServerInstance, error)
	MarkNotified(ctx context.Context, instanceID, prolongSecret string) error
}

// AddressBook resolves a user id to an email address. Identity management is
// external to this service; deployments plug in whatever directory they have.
type AddressBook interface {
	EmailFor(ctx context.Context, userID string) (string, error)
}

// MailAddressBook treats user ids that already look like mail addresses as
// such. It fits deployments where the upstream proxy passes the email as the
// user id and needs no directory of its own.
type MailAddressBook struct{}

// EmailFor returns the user id itself when it contains an "@".
func (MailAddressBook) EmailFor(_ context.Context, userID string) (string, error) {
	if !strings.Contains(userID, "@") {
		return "", fmt.Errorf("user id %q is not a mail address", userID)
	}
	return userID, nil
}

// ProlongNotifier emails expiry warnings with prolong links.
type ProlongNotifier struct {
	instances NotifyInstanceStore
	mailer    notify.Mailer
	addresses AddressBook
	escalate  func(subject, body string)

	// publicURL is the externally reachable base of the HTTP API, used to
	// build prolong links.
	publicURL string
	window    time.Duration
	interval  time.Duration
	stopChan  chan struct{}
}

// NewProlongNotifier creates a notifier. windowWeeks bounds how far ahead of
// the removal deadline the warning goes out (default 12 weeks). escalate may
// be nil; delivery failures are then only logged.
func NewProlongNotifier(
	instances NotifyInstanceStore,
	mailer notify.Mailer,
	addresses AddressBook,
	escalate func(subject, body string),
	publicURL string,
	windowWeeks int,
	interval time.Duration,
) *ProlongNotifier {
	if windowWeeks <= 0 {
		windowWeeks = defaultNotifyWindowWeeks
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &ProlongNotifier{
		instances: instances,
		mailer:    mailer,
		addresses: addresses,
		escalate:  escalate,
		publicURL: strings.TrimRight(publicURL, "/"),
		window:    time.Duration(windowWeeks) * 7 * 24 * time.Hour,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background notification loop. It runs an initial sweep
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (n *ProlongNotifier) Start(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	slog.Info("prolong notifier started", "interval", n.interval, "window", n.window)

	n.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			n.RunOnce(ctx)
		case <-n.stopChan:
			slog.Info("prolong notifier stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the background loop to exit.
func (n *ProlongNotifier) Stop() {
	close(n.stopChan)
}

// RunOnce performs a single notification sweep. Every matching instance gets
// a fresh secret and is marked notified whether or not the mail went out; a
// lost mail must not cause a mail storm on every following sweep.
func (n *ProlongNotifier) RunOnce(ctx context.Context) {
	cutoff := time.Now().Add(n.window)
	due, err := n.instances.ListDueForNotification(ctx, cutoff)
	if err != nil {
		slog.Error("prolong sweep: listing instances failed", "error", err)
		return
	}

	for _, inst := range due {
		secret := uuid.New().String()

		if err := n.sendWarning(ctx, inst, secret); err != nil {
			slog.Error("prolong sweep: mail delivery failed",
				"instance", inst.ID, "user", inst.UserID, "error", err)
			if n.escalate != nil {
				n.escalate(
					fmt.Sprintf("prolong notification failed for instance %s", inst.ID),
					fmt.Sprintf("Owner: %s\nRemoval at: %s\nError: %v", inst.UserID, inst.RemovalAt.Format(time.RFC1123), err),
				)
			}
		} else {
			telemetry.ProlongNotificationsSentTotal.Inc()
		}

		if err := n.instances.MarkNotified(ctx, inst.ID, secret); err != nil {
			slog.Error("prolong sweep: marking instance notified failed", "instance", inst.ID, "error", err)
		}
	}

	telemetry.SweepRunsTotal.WithLabelValues("notify").Inc()
}

// sendWarning composes and delivers the expiry warning for one instance.
func (n *ProlongNotifier) sendWarning(ctx context.Context, inst *models.ServerInstance, secret string) error {
	email, err := n.addresses.EmailFor(ctx, inst.UserID)
	if err != nil {
		return fmt.Errorf("resolve address: %w", err)
	}

	link := fmt.Sprintf("%s/v1/instances/%s/prolong/%s", n.publicURL, inst.ID, secret)
	subject := fmt.Sprintf("Your server %s will be removed on %s",
		inst.ServerName, inst.RemovalAt.UTC().Format("2006-01-02"))
	body := strings.Join([]string{
		"Hello,",
		"",
		fmt.Sprintf("Your server %q (%s) is scheduled for removal on %s.",
			inst.ServerName, inst.Usage, inst.RemovalAt.UTC().Format(time.RFC1123)),
		"",
		"If you still need it, extend its lifetime with this link:",
		"  " + link,
		"",
		"The link is valid once. If the server is no longer needed, no action is required.",
	}, "\r\n")

	return n.mailer.Send(subject, body, []string{email})
}
