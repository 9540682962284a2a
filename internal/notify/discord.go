package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// severityColors maps alert severities to Discord embed sidebar colors.
var severityColors = map[domain.AlertSeverity]int{
	domain.AlertInfo:      0x3498db, // blue
	domain.AlertWarning:   0xf1c40f, // yellow
	domain.AlertCritical:  0xe74c3c, // red
	domain.AlertEmergency: 0x992d22, // dark red
}

// DiscordSender renders risk alerts as webhook embeds, one field per context
// value, colored by severity.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Send implements Sender.
func (d *DiscordSender) Send(ctx context.Context, alert domain.RiskAlert) error {
	embed := discordEmbed{
		Title:       fmt.Sprintf("%s: %s", strings.ToUpper(string(alert.Severity)), alert.Kind),
		Description: alert.Message,
		Color:       severityColors[alert.Severity],
		Timestamp:   alert.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, k := range contextKeys(alert.Context) {
		embed.Fields = append(embed.Fields, discordField{
			Name:   k,
			Value:  fmt.Sprintf("%v", alert.Context[k]),
			Inline: true,
		})
	}

	body, err := json.Marshal(map[string]any{"embeds": []discordEmbed{embed}})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
