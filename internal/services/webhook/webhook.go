package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/pocketpay/transferd/pkg/transfer"
)

type message struct {
	Content string `json:"content"`
}

// Messager posts operational notifications to a webhook channel. Delivery
// is best effort; callers never roll anything back when it fails.
type Messager struct {
	BaseURL string
	AppName string

	notify bool
}

func NewMessager(baseURL, appName string, notify bool) transfer.WebhookMessager {
	return &Messager{
		BaseURL: baseURL,
		AppName: appName,
		notify:  notify,
	}
}

func (m *Messager) send(ctx context.Context, content string) error {
	if !m.notify {
		return nil
	}

	data, err := json.Marshal(message{Content: fmt.Sprintf("[%s] %s", m.AppName, content)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL, bytes.NewReader(data))
	if err != nil {
		return err
	}

	req.Header.Add("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errors.New("error sending message")
	}

	return nil
}

func (m *Messager) Notify(ctx context.Context, msg string) error {
	return m.send(ctx, msg)
}

func (m *Messager) NotifyWarning(ctx context.Context, errorMessage error) error {
	return m.send(ctx, "warning: "+errorMessage.Error())
}

func (m *Messager) NotifyError(ctx context.Context, errorMessage error) error {
	return m.send(ctx, "error: "+errorMessage.Error())
}
