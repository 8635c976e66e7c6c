// Package render is the templating collaborator: path-template rendering
// (video/page directory and file names), webhook JSON payload rendering,
// NFO metadata generation, and subtitle track rendering (ASS/SRT). Path and
// webhook templates are Mustache-like with triple-brace escape suppression,
// via github.com/cbroglie/mustache.
package render

import (
	"fmt"
	"strings"

	"github.com/cbroglie/mustache"
)

// unsafePathChars are characters forbidden (or awkward) in filenames across
// the common media-library host filesystems; each is replaced with "_".
var unsafePathChars = []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}

// SanitizePathComponent neutralizes filesystem-unsafe characters in a single
// rendered path segment. It does not touch path separators the caller adds
// itself.
func SanitizePathComponent(s string) string {
	out := s
	for _, c := range unsafePathChars {
		out = strings.ReplaceAll(out, c, "_")
	}
	out = strings.TrimSpace(out)
	out = strings.TrimRight(out, ".")
	if out == "" {
		return "_"
	}
	return out
}

// Path renders a path template (e.g. config.VideoName, config.PageName)
// against data and sanitizes the result for use as a single filename or
// directory component.
func Path(template string, data map[string]interface{}) (string, error) {
	rendered, err := mustache.Render(template, data)
	if err != nil {
		return "", fmt.Errorf("render: path template: %w", err)
	}
	return SanitizePathComponent(rendered), nil
}

// DefaultWebhookTemplate is used when a notifier's Template field is empty.
// The triple-brace form suppresses HTML escaping of the message body.
const DefaultWebhookTemplate = `{"text": "{{{message}}}", "created_at":"{{created_at}}", "sent_at":"{{sent_at}}"}`

// WebhookPayload renders a webhook notifier's JSON body. Newlines in message
// are flattened to spaces before templating, matching the line-oriented
// delivery most webhook consumers expect.
func WebhookPayload(template, message, createdAt, sentAt string) (string, error) {
	if template == "" {
		template = DefaultWebhookTemplate
	}
	flat := strings.ReplaceAll(strings.ReplaceAll(message, "\r\n", " "), "\n", " ")
	rendered, err := mustache.Render(template, map[string]interface{}{
		"message":    flat,
		"created_at": createdAt,
		"sent_at":    sentAt,
	})
	if err != nil {
		return "", fmt.Errorf("render: webhook template: %w", err)
	}
	return rendered, nil
}

// TelegramText composes a Telegram message body: the raw message plus
// generated/sent timestamp footers.
func TelegramText(message, createdAt, sentAt string) string {
	return fmt.Sprintf("%s\n⌛️ 生成时间: %s\n⌛️ 推送时间: %s", message, createdAt, sentAt)
}
