package telegram

import (
	"strings"
	"testing"

	"github.com/louisbranch/bankdesk/internal/services/desk/domain"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

func TestRenderScreenshotStep(t *testing.T) {
	step := &domain.Step{
		Number:         1,
		Kind:           domain.StepScreenshot,
		Text:           "Open the app and capture the main screen",
		RequiredPhotos: 2,
		Examples:       []string{"example-file-id"},
		Payload:        domain.ScreenshotPayload{},
	}
	out := renderStep(step)
	if !strings.Contains(out, "Step 1:") {
		t.Fatalf("missing step number: %q", out)
	}
	if !strings.Contains(out, "Send 2 screenshots") {
		t.Fatalf("missing photo quota: %q", out)
	}
	if !strings.Contains(out, "Examples:") {
		t.Fatalf("missing examples: %q", out)
	}
}

func TestRenderDataRequestListsFields(t *testing.T) {
	step := &domain.Step{
		Number: 2,
		Kind:   domain.StepDataRequest,
		Text:   "Send your contact data",
		Payload: domain.DataRequestPayload{Fields: []domain.FieldSpec{
			{Name: "phone", Kind: domain.FieldPhone, Required: true},
			{Name: "email", Kind: domain.FieldEmail},
		}},
	}
	out := renderStep(step)
	if !strings.Contains(out, "phone: ...(") && !strings.Contains(out, "phone: ... (required)") {
		t.Fatalf("missing required marker: %q", out)
	}
	if !strings.Contains(out, "email: ...") {
		t.Fatalf("missing optional field: %q", out)
	}
}

func TestRenderUnknownKindAsksForScreenshot(t *testing.T) {
	step := &domain.Step{
		Number:  3,
		Kind:    domain.StepUnknown,
		Text:    "Complete the extra verification",
		Payload: domain.UnknownPayload{RawKind: "video_call"},
	}
	out := renderStep(step)
	if !strings.Contains(out, "Send a screenshot") {
		t.Fatalf("expected screenshot fallback: %q", out)
	}
}

func TestRenderNilStepEmpty(t *testing.T) {
	if out := renderStep(nil); out != "" {
		t.Fatalf("expected empty render, got %q", out)
	}
}

func TestParseKeyValues(t *testing.T) {
	values := parseKeyValues("phone: 067 123 45 67\nemail: user@example.com\njust a line\nempty:\n")
	if len(values) != 2 {
		t.Fatalf("unexpected values %v", values)
	}
	if values["phone"] != "067 123 45 67" || values["email"] != "user@example.com" {
		t.Fatalf("unexpected values %v", values)
	}
}

type mapKV map[string]string

func (m mapKV) Get(key string) (string, bool) { value, ok := m[key]; return value, ok }
func (m mapKV) Set(key, value string) error   { m[key] = value; return nil }
func (m mapKV) Delete(key string) error       { delete(m, key); return nil }
func (m mapKV) Keys() []string                { return nil }

var _ storage.KVStore = mapKV{}

func TestTemplateOverride(t *testing.T) {
	bot := &Bot{kv: mapKV{templateWelcome: "custom greeting"}}
	if got := bot.template(templateWelcome); got != "custom greeting" {
		t.Fatalf("unexpected template %q", got)
	}
	if got := bot.template(templateQueued); got != defaultTemplates[templateQueued] {
		t.Fatalf("unexpected default %q", got)
	}
}

func TestTemplateBlankOverrideFallsBack(t *testing.T) {
	bot := &Bot{kv: mapKV{templateWelcome: "   "}}
	if got := bot.template(templateWelcome); got != defaultTemplates[templateWelcome] {
		t.Fatalf("unexpected template %q", got)
	}
}
