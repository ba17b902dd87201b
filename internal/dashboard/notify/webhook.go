package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// WebhookNotifier posts cycle summaries as text webhook messages.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends a cycle summary to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, msg CycleMessage) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	payload := webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: formatCycleMessage(msg)},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}

func formatCycleMessage(msg CycleMessage) string {
	var b strings.Builder
	b.WriteString("[Speedboard Refresh]\n")
	fmt.Fprintf(&b, "Cycle: %s\n", msg.CycleID)
	if msg.Sequence > 0 {
		fmt.Fprintf(&b, "Snapshot: #%d\n", msg.Sequence)
	}
	if !msg.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Started: %s\n", msg.StartedAt.Format(time.RFC3339))
	}
	if msg.Window.Bounded() {
		fmt.Fprintf(&b, "Window: %s .. %s\n", msg.Window.Start, msg.Window.End)
	}
	fmt.Fprintf(&b, "Rendered: %d\n", msg.Rendered)
	keys := make([]string, 0, len(msg.Failures))
	for key := range msg.Failures {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "Failed %s: %s\n", key, msg.Failures[key])
	}
	return strings.TrimSpace(b.String())
}
