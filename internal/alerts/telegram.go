package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hollowport/hollowport/internal/config"
)

type TelegramProvider struct {
	config *config.TelegramConfig
	client *http.Client
	// baseURL is overridable in tests.
	baseURL string
}

func NewTelegramProvider(cfg *config.TelegramConfig) *TelegramProvider {
	return &TelegramProvider{
		config: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		baseURL: "https://api.telegram.org",
	}
}

func (tp *TelegramProvider) Name() string {
	return "telegram"
}

func (tp *TelegramProvider) IsEnabled() bool {
	return tp.config.Enabled && tp.config.BotToken != "" && tp.config.ChatID != ""
}

func (tp *TelegramProvider) Send(payload *Payload) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    tp.config.ChatID,
		"text":       formatMessage(payload),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", tp.baseURL, tp.config.BotToken)
	resp, err := tp.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API status %d", resp.StatusCode)
	}
	return nil
}

func formatMessage(payload *Payload) string {
	event := payload.Event
	details := event.Details

	var b strings.Builder

	switch {
	case event.EventType == "credential_reuse" || payload.Level == 3:
		b.WriteString("🚨 *CRITICAL - Compromise*\n\n")
	case payload.Level == 2:
		b.WriteString("⚠️ *MEDIUM - Suspicious Activity*\n\n")
	default:
		b.WriteString("🔍 *LOW - Reconnaissance*\n\n")
	}

	if event.HoneypotName != "" {
		fmt.Fprintf(&b, "*Honeypot:* `%s` (%s)\n", event.HoneypotName, event.HoneypotType)
	} else {
		fmt.Fprintf(&b, "*Honeypot:* `%s`\n", event.HoneypotType)
	}
	fmt.Fprintf(&b, "*Source IP:* `%s`\n", event.SourceIP)
	fmt.Fprintf(&b, "*Event:* %s\n", event.EventType)
	fmt.Fprintf(&b, "*Time:* %s\n", event.Timestamp)

	if username, ok := detailString(details, "username"); ok {
		fmt.Fprintf(&b, "\n*Username:* `%s`\n", username)
		if password, ok := detailString(details, "password"); ok {
			fmt.Fprintf(&b, "*Password:* `%s`\n", password)
		}
	}
	if query, ok := detailString(details, "query"); ok {
		fmt.Fprintf(&b, "\n*SQL Query:*\n```\n%s\n```\n", truncate(query, 200))
	}
	if command, ok := detailString(details, "command"); ok {
		fmt.Fprintf(&b, "\n*Command:*\n```\n%s\n```\n", truncate(command, 200))
	}

	if payload.Incident != nil {
		fmt.Fprintf(&b, "\n*Incident:* #%s\n", shortID(payload.Incident.ID))
		fmt.Fprintf(&b, "*Events in incident:* %d\n", payload.Incident.EventCount)
	}

	if payload.Level == 3 {
		b.WriteString("\n⚠️ *CRITICAL!*\n")
		if event.HoneytokenUsername != "" {
			fmt.Fprintf(&b, "Honeytoken used: `%s`\n", event.HoneytokenUsername)
		}
		b.WriteString("A planted credential appeared in captured traffic. Check the system urgently.")
	}

	return b.String()
}

func detailString(details map[string]interface{}, key string) (string, bool) {
	if details == nil {
		return "", false
	}
	s, ok := details[key].(string)
	return s, ok && s != ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
