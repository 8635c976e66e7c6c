package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/JeromeFenwick/bili-sync/render"
)

func sendTelegram(ctx context.Context, client *http.Client, botToken, chatID, message, createdAt, sentAt string) error {
	text := render.TelegramText(message, createdAt, sentAt)
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken)
	form := url.Values{"chat_id": {chatID}, "text": {text}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("notify: build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify: telegram api returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func sendWebhook(ctx context.Context, client *http.Client, targetURL, template, message, createdAt, sentAt string) error {
	payload, err := render.WebhookPayload(template, message, createdAt, sentAt)
	if err != nil {
		return fmt.Errorf("notify: render webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify: webhook returned 400: %s\n\npayload sent:\n%s", string(body), payload)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify: webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
