// Package alerting sends threshold-breach notifications over a Microsoft
// Teams incoming webhook and/or SMTP email. Grounded on alerts.py's
// AlertManager: per-key rate limiting, fire-and-forget dispatch on a
// detached goroutine so a slow webhook or mail server never blocks the
// caller (the gateway's dispatch path, in particular).
package alerting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config carries the two notification channels' settings plus the shared
// rate-limit window.
type Config struct {
	TeamsWebhookURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       []string

	RateLimit time.Duration
	Logger    *logrus.Logger

	httpClient *http.Client // overridable by tests; nil means http.DefaultClient
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.RateLimit == 0 {
		out.RateLimit = 300 * time.Second
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	if out.httpClient == nil {
		out.httpClient = http.DefaultClient
	}
	return out
}

// Alerter sends rate-limited notifications across the configured channels.
type Alerter struct {
	cfg Config

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// New constructs an Alerter.
func New(cfg Config) *Alerter {
	return &Alerter{cfg: cfg.withDefaults(), lastSent: make(map[string]time.Time)}
}

// Send dispatches subject/body across every configured channel on a
// detached goroutine, unless key was sent within the rate-limit window.
// An empty key bypasses rate limiting entirely.
func (a *Alerter) Send(subject, body, key string) {
	if key != "" && a.rateLimited(key) {
		a.cfg.Logger.WithField("key", key).Debug("alert suppressed by rate limiter")
		return
	}
	a.recordSend(key)
	go a.dispatch(subject, body)
}

func (a *Alerter) dispatch(subject, body string) {
	fullText := fmt.Sprintf("**%s**\n\n%s", subject, body)
	if a.cfg.TeamsWebhookURL != "" {
		if err := a.sendTeams(fullText); err != nil {
			a.cfg.Logger.WithError(err).Error("teams alert failed")
		}
	}
	if a.cfg.SMTPHost != "" && len(a.cfg.SMTPTo) > 0 {
		if err := a.sendEmail(subject, body, a.cfg.SMTPTo); err != nil {
			a.cfg.Logger.WithError(err).Error("email alert failed")
		}
	}
}

// TestTeams sends a synchronous test message, bypassing rate limiting.
func (a *Alerter) TestTeams(message string) error {
	if message == "" {
		message = "LSS test alert"
	}
	return a.sendTeams(fmt.Sprintf("**LSS Test** — %s", message))
}

// TestEmail sends a synchronous test message to recipient, or to the
// configured default recipients if recipient is empty.
func (a *Alerter) TestEmail(recipient string) error {
	to := a.cfg.SMTPTo
	if recipient != "" {
		to = []string{recipient}
	}
	if len(to) == 0 {
		return fmt.Errorf("alerting: no recipients configured")
	}
	return a.sendEmail("LSS Test Alert", "This is a test email from the LoRa Sensor Station.", to)
}

type teamsMessageCard struct {
	Type    string `json:"@type"`
	Context string `json:"@context"`
	Text    string `json:"text"`
}

func (a *Alerter) sendTeams(text string) error {
	if a.cfg.TeamsWebhookURL == "" {
		return fmt.Errorf("alerting: no teams webhook configured")
	}
	body, err := json.Marshal(teamsMessageCard{
		Type:    "MessageCard",
		Context: "http://schema.org/extensions",
		Text:    text,
	})
	if err != nil {
		return err
	}
	resp, err := a.cfg.httpClient.Post(a.cfg.TeamsWebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alerting: teams webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (a *Alerter) sendEmail(subject, body string, to []string) error {
	if a.cfg.SMTPHost == "" {
		return fmt.Errorf("alerting: no smtp host configured")
	}
	from := a.cfg.SMTPFrom
	if from == "" {
		from = a.cfg.SMTPUsername
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		from, strings.Join(to, ", "), subject, body)

	addr := fmt.Sprintf("%s:%d", a.cfg.SMTPHost, a.cfg.SMTPPort)
	var auth smtp.Auth
	if a.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", a.cfg.SMTPUsername, a.cfg.SMTPPassword, a.cfg.SMTPHost)
	}
	return smtp.SendMail(addr, auth, from, to, []byte(msg))
}

func (a *Alerter) rateLimited(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[key]
	if !ok {
		return false
	}
	return time.Since(last) < a.cfg.RateLimit
}

func (a *Alerter) recordSend(key string) {
	if key == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSent[key] = time.Now()
}
