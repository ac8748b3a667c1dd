package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

// DiscordNotifier posts alerts as embeds to a Discord webhook.
type DiscordNotifier struct {
	url    string
	client *http.Client
}

// NewDiscordNotifier creates a Discord webhook notifier.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		url:    webhookURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Send(ctx context.Context, alert Alert) error {
	ts := alert.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := alert.Fields
	if fields == nil {
		fields = []Field{}
	}
	msg := discordMessage{Embeds: []discordEmbed{{
		Title:       alert.Title,
		Description: alert.Message,
		Color:       alert.Color,
		Fields:      fields,
		Timestamp:   ts.UTC().Format(time.RFC3339),
	}}}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("discord: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, text)
	}

	slog.Debug("sent discord alert", "title", alert.Title)
	return nil
}
