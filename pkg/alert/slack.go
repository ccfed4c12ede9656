package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Alerter posts operational warnings to a Slack-style incoming webhook.
// An empty WebhookURL disables it. Delivery failures are logged and
// swallowed: alerting must never stall the survey loop.
type Alerter struct {
	Logger     *zap.Logger
	WebhookURL string
	LowerBound time.Duration
	UpperBound time.Duration
	HTTPClient *http.Client
}

func New(logger *zap.Logger, webhookURL string, lower, upper time.Duration) *Alerter {
	return &Alerter{
		Logger:     logger,
		WebhookURL: webhookURL,
		LowerBound: lower,
		UpperBound: upper,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CheckDuration fires when a dispatch round trip falls outside the expected
// window. Too fast usually means workers exited without doing work; too slow
// means the batch is at risk of overrunning its window.
func (a *Alerter) CheckDuration(d time.Duration) {
	if d < a.LowerBound {
		a.Send(fmt.Sprintf("Data processing took %.1fs, less than the minimum of %.0fs. Workers may not be processing submissions.",
			d.Seconds(), a.LowerBound.Seconds()))
		return
	}
	if d > a.UpperBound {
		a.Send(fmt.Sprintf("Data processing took %.1fs, more than the maximum of %.0fs.",
			d.Seconds(), a.UpperBound.Seconds()))
	}
}

// Send posts a plain-text message to the webhook.
func (a *Alerter) Send(message string) {
	if a.WebhookURL == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		a.Logger.Error("Failed to encode alert payload", zap.Error(err))
		return
	}

	resp, err := a.HTTPClient.Post(a.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		a.Logger.Error("Failed to deliver alert",
			zap.String("message", message),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.Logger.Error("Alert webhook returned non-OK status",
			zap.Int("status", resp.StatusCode),
			zap.String("message", message))
		return
	}
	a.Logger.Info("Alert delivered", zap.String("message", message))
}
