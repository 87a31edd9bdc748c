package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/serverfleet/serverfleet/internal/provider"
)

func TestRenderUserMessage(t *testing.T) {
	user := "root"
	pass := "hunter2"
	info := &provider.CreatedInfo{
		Info: provider.Info{
			ServerName:     "web-a1b2",
			ServerAddress:  "203.0.113.10",
			ServerUser:     &user,
			ServerPassword: &pass,
		},
		Description: "Web sandbox",
	}
	removal := time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC)

	body := "Connect to {{.ServerAddress}} as {{.ServerUser}} (password {{.ServerPassword}}). Expires {{.RemovalAt}}."
	got, err := RenderUserMessage(body, NewMessageData(info, removal))
	if err != nil {
		t.Fatalf("RenderUserMessage: %v", err)
	}
	for _, want := range []string{"203.0.113.10", "root", "hunter2", removal.Format(time.RFC1123)} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered message missing %q: %s", want, got)
		}
	}
}

func TestRenderUserMessageEmptyBody(t *testing.T) {
	got, err := RenderUserMessage("", MessageData{})
	if err != nil {
		t.Fatalf("RenderUserMessage: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty render, got %q", got)
	}
}

func TestRenderUserMessageNilPointersFlattenToEmpty(t *testing.T) {
	info := &provider.CreatedInfo{Info: provider.Info{ServerName: "n"}}
	d := NewMessageData(info, time.Now())
	if d.ServerUser != "" || d.ServerPassword != "" || d.Usage != "" {
		t.Errorf("nil backend fields should flatten to empty strings: %+v", d)
	}
}

func TestRenderUserMessageBadTemplate(t *testing.T) {
	if _, err := RenderUserMessage("{{.Broken", MessageData{}); err == nil {
		t.Error("expected parse error for malformed template")
	}
}

func TestRenderUserMessageUnknownField(t *testing.T) {
	if _, err := RenderUserMessage("{{.NoSuchField}}", MessageData{}); err == nil {
		t.Error("expected execute error for unknown field")
	}
}
