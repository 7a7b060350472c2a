package alerts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowport/hollowport/internal/config"
)

func TestWebhookProviderPostsPayload(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	provider := NewWebhookProvider(&config.WebhookConfig{
		Enabled:        true,
		Endpoints:      []string{srv.URL},
		BearerToken:    "secret-token",
		TimeoutSeconds: 2,
	})
	require.True(t, provider.IsEnabled())

	payload := &Payload{
		Level: 3,
		Event: Event{
			HoneypotType: "postgres",
			HoneypotName: "postgres-default",
			SourceIP:     "203.0.113.9",
			EventType:    "credential_reuse",
		},
		Incident: &Incident{ID: "abc", EventCount: 4},
	}
	require.NoError(t, provider.Send(payload))

	var decoded Payload
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, 3, decoded.Level)
	assert.Equal(t, "credential_reuse", decoded.Event.EventType)
	require.NotNil(t, decoded.Incident)
	assert.Equal(t, 4, decoded.Incident.EventCount)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "Hollowport-Webhook/1.0", gotAgent)
}

func TestWebhookProviderReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider := NewWebhookProvider(&config.WebhookConfig{
		Enabled:        true,
		Endpoints:      []string{srv.URL},
		TimeoutSeconds: 2,
	})
	err := provider.Send(&Payload{Level: 2, Event: Event{EventType: "ssh_command"}})
	assert.Error(t, err)
}

func TestTelegramProviderSendsMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	provider := NewTelegramProvider(&config.TelegramConfig{
		Enabled:        true,
		BotToken:       "123:abc",
		ChatID:         "-100200300",
		TimeoutSeconds: 2,
	})
	provider.baseURL = srv.URL
	require.True(t, provider.IsEnabled())

	payload := &Payload{
		Level: 3,
		Event: Event{
			HoneypotType:       "honeytoken",
			HoneypotName:       "postgres-default",
			SourceIP:           "203.0.113.9",
			EventType:          "credential_reuse",
			Timestamp:          "2025-06-01T12:00:00Z",
			HoneytokenUsername: "svc_backup_01",
			Details: map[string]interface{}{
				"username": "svc_backup_01",
				"password": "hunter2",
				"query":    "SELECT * FROM users",
			},
		},
		Incident: &Incident{ID: "0123456789abcdef", EventCount: 7},
	}
	require.NoError(t, provider.Send(payload))

	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "-100200300", gotBody["chat_id"])
	assert.Equal(t, "Markdown", gotBody["parse_mode"])

	text := gotBody["text"]
	assert.Contains(t, text, "CRITICAL - Compromise")
	assert.Contains(t, text, "postgres-default")
	assert.Contains(t, text, "203.0.113.9")
	assert.Contains(t, text, "svc_backup_01")
	assert.Contains(t, text, "SELECT * FROM users")
	assert.Contains(t, text, "#01234567")
	assert.Contains(t, text, "Events in incident:* 7")
}

func TestTelegramDisabledWithoutCredentials(t *testing.T) {
	provider := NewTelegramProvider(&config.TelegramConfig{Enabled: true})
	assert.False(t, provider.IsEnabled())
}

func TestFormatMessageTruncatesLongQueries(t *testing.T) {
	payload := &Payload{
		Level: 2,
		Event: Event{
			HoneypotType: "postgres",
			SourceIP:     "203.0.113.9",
			EventType:    "postgres_query",
			Details: map[string]interface{}{
				"query": strings.Repeat("A", 500),
			},
		},
	}
	text := formatMessage(payload)
	assert.Contains(t, text, "MEDIUM - Suspicious Activity")
	assert.Contains(t, text, strings.Repeat("A", 200)+"...")
	assert.NotContains(t, text, strings.Repeat("A", 201))
}
