// Package notification delivers trading events to the operator through
// Discord, Telegram, generic webhooks or the log.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Embed colours.
const (
	ColorGreen  = 0x00FF00
	ColorRed    = 0xFF0000
	ColorYellow = 0xFFFF00
	ColorBlue   = 0x00BFFF
	ColorGray   = 0x808080
)

// Field is one labelled value inside an alert.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Color   int        `json:"color,omitempty"`
	Fields  []Field    `json:"fields,omitempty"`
	Time    time.Time  `json:"ts"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	attrs := []any{"level", string(alert.Level), "title", alert.Title, "message", alert.Message}
	for _, f := range alert.Fields {
		attrs = append(attrs, f.Name, f.Value)
	}
	slog.Info("notify", attrs...)
	return nil
}

// Multi sends every alert to all backends. A failing backend does not stop
// delivery to the others; the joined error is returned.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
