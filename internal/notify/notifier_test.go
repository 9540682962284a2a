package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type stubSender struct {
	name string
	err  error
	sent []domain.RiskAlert
}

func (s *stubSender) Send(ctx context.Context, alert domain.RiskAlert) error {
	s.sent = append(s.sent, alert)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func sampleAlert(sev domain.AlertSeverity) domain.RiskAlert {
	return domain.RiskAlert{
		ID:        "a1",
		Key:       "utilization:critical",
		Severity:  sev,
		Kind:      "utilization",
		Message:   "exposure utilization 95% over critical tier",
		Context:   map[string]any{"utilization": 0.95, "ceiling": 200000.0},
		CreatedAt: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifierSeverityFilter(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, domain.AlertWarning, testLogger())

	require.NoError(t, n.NotifyAlert(context.Background(), sampleAlert(domain.AlertInfo)))
	assert.Empty(t, s.sent, "below-threshold alerts are dropped")

	require.NoError(t, n.NotifyAlert(context.Background(), sampleAlert(domain.AlertWarning)))
	require.Len(t, s.sent, 1)
	assert.Equal(t, "utilization", s.sent[0].Kind)
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	bad := &stubSender{name: "bad", err: errors.New("boom")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, domain.AlertInfo, testLogger())

	err := n.NotifyAlert(context.Background(), sampleAlert(domain.AlertCritical))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.sent, 1, "one failing sender does not block the rest")
}

func TestNotifierUnknownSeverityDefaultsToWarning(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, "loud", testLogger())

	require.NoError(t, n.NotifyAlert(context.Background(), sampleAlert(domain.AlertInfo)))
	assert.Empty(t, s.sent)
}

func TestDiscordSenderPostsEmbed(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), sampleAlert(domain.AlertCritical)))

	var payload struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Embeds, 1)

	embed := payload.Embeds[0]
	assert.Equal(t, "CRITICAL: utilization", embed.Title)
	assert.Equal(t, severityColors[domain.AlertCritical], embed.Color)
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "ceiling", embed.Fields[0].Name, "context fields in sorted key order")
	assert.Equal(t, "utilization", embed.Fields[1].Name)
	assert.Equal(t, "2026-08-28T12:00:00Z", embed.Timestamp)
}

func TestDiscordSenderSurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	err := d.Send(context.Background(), sampleAlert(domain.AlertWarning))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestTelegramSenderRendersMarkdown(t *testing.T) {
	var path string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegramSender("token123", "chat42")
	tg.baseURL = srv.URL
	require.NoError(t, tg.Send(context.Background(), sampleAlert(domain.AlertEmergency)))

	assert.Equal(t, "/bottoken123/sendMessage", path)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "chat42", payload["chat_id"])
	assert.True(t, strings.HasPrefix(payload["text"], "*EMERGENCY* utilization\n"))
	assert.Contains(t, payload["text"], "`ceiling`: 200000")
}
