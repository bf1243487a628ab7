// Package notify sends owner alerts over SMS.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrCodeEU/faceignition/pkg/logging"
)

// Event is a notification kind.
type Event int

const (
	// VehicleStarted is sent after the motor was started.
	VehicleStarted Event = iota
	// UnauthorizedAttempt is sent when a capture did not match any owner.
	UnauthorizedAttempt
)

func (e Event) String() string {
	switch e {
	case VehicleStarted:
		return "vehicle_started"
	case UnauthorizedAttempt:
		return "unauthorized_attempt"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Notifier delivers an event to the owner.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SMSConfig configures an SMSNotifier.
type SMSConfig struct {
	Endpoint  string
	AuthToken string
	Recipient string
	// PublicURL is the dashboard address as reachable from the owner's phone.
	PublicURL string
	Timeout   time.Duration
}

// SMSNotifier posts a form with auth_token, to and text to an SMS gateway.
type SMSNotifier struct {
	cfg    SMSConfig
	client HTTPDoer
}

// NewSMSNotifier creates an SMSNotifier with its own bounded HTTP client.
func NewSMSNotifier(cfg SMSConfig) *SMSNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMSNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Message renders the SMS body for event.
func (n *SMSNotifier) Message(event Event) string {
	base := strings.TrimRight(n.cfg.PublicURL, "/")
	switch event {
	case VehicleStarted:
		return fmt.Sprintf("Vehicle Start Detected!\n\nThe vehicle has been started. Control it here:\n%s\n", base)
	case UnauthorizedAttempt:
		return fmt.Sprintf("Unauthorized Access Attempt!\n\nAn unknown person tried to start the vehicle.\nImage: %s/captured_image\nAuthorize or deny: %s/authorize\n", base, base)
	default:
		return fmt.Sprintf("faceignition event: %s", event)
	}
}

// Notify sends the SMS for event. Any non-200 response is an error.
func (n *SMSNotifier) Notify(ctx context.Context, event Event) error {
	form := url.Values{}
	form.Set("auth_token", n.cfg.AuthToken)
	form.Set("to", n.cfg.Recipient)
	form.Set("text", n.Message(event))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	logging.Component("notify").WithField("event", event.String()).Info("SMS sent")
	return nil
}

// Nop logs events instead of sending them. It is used when no gateway
// token is configured.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(_ context.Context, event Event) error {
	logging.Component("notify").WithField("event", event.String()).Info("Notifier disabled, not sending SMS")
	return nil
}
