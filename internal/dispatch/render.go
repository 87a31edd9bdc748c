// render.go renders a template's user message body against the outcome of a
// create, so the stored per-instance message can carry the final server
// attributes (address, credentials, removal deadline).
package dispatch

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/serverfleet/serverfleet/internal/provider"
)

// MessageData is the view rendered into a template's user message body.
// Pointer-typed backend fields are flattened to plain strings so template
// authors never deal with nil.
type MessageData struct {
	ServerName     string
	ServerAddress  string
	ServerUser     string
	ServerPassword string
	Usage          string
	Description    string
	RemovalAt      string
}

// NewMessageData flattens a create result and removal deadline into a view.
func NewMessageData(info *provider.CreatedInfo, removalAt time.Time) MessageData {
	d := MessageData{
		ServerName:    info.ServerName,
		ServerAddress: info.ServerAddress,
		Description:   info.Description,
		RemovalAt:     removalAt.Format(time.RFC1123),
	}
	if info.ServerUser != nil {
		d.ServerUser = *info.ServerUser
	}
	if info.ServerPassword != nil {
		d.ServerPassword = *info.ServerPassword
	}
	if info.Usage != nil {
		d.Usage = *info.Usage
	}
	return d
}

// RenderUserMessage executes body as a text/template against data. An empty
// body renders to an empty string without error.
func RenderUserMessage(body string, data MessageData) (string, error) {
	if body == "" {
		return "", nil
	}
	tmpl, err := template.New("user_message").Option("missingkey=error").Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse user message template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render user message template: %w", err)
	}
	return sb.String(), nil
}
