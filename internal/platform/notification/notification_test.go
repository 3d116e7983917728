package notification

import (
	"context"
	"strings"
	"testing"
)

func TestRenderBuiltInTemplate(t *testing.T) {
	engine := NewTemplateEngine()

	subject, body, err := engine.Render("encounter-closed", map[string]string{
		"date":    "01.06.2025",
		"outcome": "consultation_end",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if subject == "" {
		t.Error("expected a subject")
	}
	if !strings.Contains(body, "01.06.2025") {
		t.Errorf("expected date in body, got %q", body)
	}
	if !strings.Contains(body, "consultation_end") {
		t.Errorf("expected outcome in body, got %q", body)
	}
}

func TestRenderMissingTemplate(t *testing.T) {
	engine := NewTemplateEngine()
	if _, _, err := engine.Render("no-such-template", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	engine := NewTemplateEngine()
	engine.RegisterTemplate(Template{
		ID:   "custom",
		Body: "Hello {{name}}, your code is {{code}}.",
		Type: TypeSMS,
	})

	_, body, err := engine.Render("custom", map[string]string{"name": "Alex"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if body != "Hello Alex, your code is {{code}}." {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestSendEmail(t *testing.T) {
	email := &MockEmailSender{}
	mgr := NewManager(email, &MockSMSSender{}, NewTemplateEngine())

	n := &Notification{
		Type:      TypeEmail,
		Recipient: "patient@example.com",
		Subject:   "hello",
		Body:      "body",
	}
	if err := mgr.Send(context.Background(), n); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if n.Status != "sent" {
		t.Errorf("expected status sent, got %s", n.Status)
	}
	if n.SentAt == nil {
		t.Error("expected SentAt to be set")
	}
	calls := email.Calls()
	if len(calls) != 1 || calls[0].To != "patient@example.com" {
		t.Errorf("unexpected email calls: %+v", calls)
	}
}

func TestSendFailureRecorded(t *testing.T) {
	email := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	mgr := NewManager(email, &MockSMSSender{}, NewTemplateEngine())

	n := &Notification{Type: TypeEmail, Recipient: "patient@example.com", Body: "body"}
	err := mgr.Send(context.Background(), n)
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if n.Status != "failed" {
		t.Errorf("expected status failed, got %s", n.Status)
	}
	if n.Error != "smtp down" {
		t.Errorf("expected error message recorded, got %q", n.Error)
	}

	// The failed attempt is still in the log.
	got, ok := mgr.Get(n.ID)
	if !ok || got.Status != "failed" {
		t.Error("expected failed notification to be logged")
	}
}

func TestSendUnsupportedType(t *testing.T) {
	mgr := NewManager(&MockEmailSender{}, &MockSMSSender{}, NewTemplateEngine())
	n := &Notification{Type: Type("pigeon"), Recipient: "x", Body: "y"}
	if err := mgr.Send(context.Background(), n); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestSendFromTemplate(t *testing.T) {
	email := &MockEmailSender{}
	mgr := NewManager(email, &MockSMSSender{}, NewTemplateEngine())

	n, err := mgr.SendFromTemplate(context.Background(), "encounter-reopened",
		map[string]string{"date": "01.06.2025", "actor": "Dr. Smith"}, "patient@example.com")
	if err != nil {
		t.Fatalf("SendFromTemplate failed: %v", err)
	}
	if n.TemplateID != "encounter-reopened" {
		t.Errorf("expected template id recorded, got %s", n.TemplateID)
	}
	if !strings.Contains(n.Body, "Dr. Smith") {
		t.Errorf("expected actor in body, got %q", n.Body)
	}
	if len(email.Calls()) != 1 {
		t.Errorf("expected 1 email call, got %d", len(email.Calls()))
	}
}

func TestSendFromTemplateUnknown(t *testing.T) {
	mgr := NewManager(&MockEmailSender{}, &MockSMSSender{}, NewTemplateEngine())
	if _, err := mgr.SendFromTemplate(context.Background(), "nope", nil, "x"); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestList(t *testing.T) {
	mgr := NewManager(&MockEmailSender{}, &MockSMSSender{}, NewTemplateEngine())
	for i := 0; i < 3; i++ {
		n := &Notification{Type: TypeEmail, Recipient: "r", Body: "b"}
		if err := mgr.Send(context.Background(), n); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(mgr.List()); got != 3 {
		t.Errorf("expected 3 logged notifications, got %d", got)
	}
}
