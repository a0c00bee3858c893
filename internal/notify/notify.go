// Package notify delivers run-completion notifications to chat platforms.
// Senders are outbound-only; nothing here listens for replies.
package notify

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/hivemetrics/swarmbench/internal/config"
	"github.com/hivemetrics/swarmbench/internal/runlog"
)

// Field is one short fact attached to a notification.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Notification is a platform-neutral message. Each sender translates it to
// its native rich format.
type Notification struct {
	Title  string
	Body   string
	Color  string // hex, e.g. "#10b981"
	Fields []Field
}

// Notifier is one delivery transport.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Broadcast sends the notification over every transport. Failures are logged
// and do not block the remaining transports. Returns how many deliveries
// succeeded.
func Broadcast(ctx context.Context, notifiers []Notifier, n Notification) int {
	delivered := 0
	for _, notifier := range notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			log.Printf("notify: %s: %v", notifier.Name(), err)
			continue
		}
		delivered++
	}
	return delivered
}

// FromConfig builds the notifier list for the configured transports. Empty
// tokens disable a transport; an empty list is a valid result.
func FromConfig(cfg config.NotifyConfig) ([]Notifier, error) {
	var notifiers []Notifier
	if cfg.Slack.Token != "" {
		s, err := NewSlack(SlackOpts{Token: cfg.Slack.Token, ChannelID: cfg.Slack.Channel})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, s)
	}
	if cfg.Discord.Token != "" {
		d, err := NewDiscord(DiscordOpts{Token: cfg.Discord.Token, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, d)
	}
	return notifiers, nil
}

// Status colors.
const (
	colorSuccess = "#10b981"
	colorPartial = "#f59e0b"
	colorFailure = "#ef4444"
)

// RunFinished builds the notification for a terminal run: green when every
// task succeeded, amber for partial success, red when nothing did.
func RunFinished(run runlog.Run, results map[string]runlog.Result) Notification {
	completed, errored := 0, 0
	models := make(map[string]bool)
	for _, res := range results {
		models[res.ModelID] = true
		if res.Status == runlog.ResultCompleted {
			completed++
		} else {
			errored++
		}
	}

	color := colorSuccess
	switch {
	case run.Status == runlog.RunFailed || (len(results) > 0 && completed == 0):
		color = colorFailure
	case errored > 0:
		color = colorPartial
	}

	n := Notification{
		Title: fmt.Sprintf("Swarm run %s %s", shortID(run.ID), run.Status),
		Body:  fmt.Sprintf("%d/%d tasks succeeded across %d models", completed, len(results), len(models)),
		Color: color,
		Fields: []Field{
			{Name: "Tasks", Value: strconv.Itoa(len(results)), Short: true},
			{Name: "Succeeded", Value: strconv.Itoa(completed), Short: true},
			{Name: "Errors", Value: strconv.Itoa(errored), Short: true},
			{Name: "Models", Value: strconv.Itoa(len(models)), Short: true},
		},
	}
	if run.ExportPath != "" {
		n.Fields = append(n.Fields, Field{Name: "Export", Value: run.ExportPath})
	}
	return n
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
