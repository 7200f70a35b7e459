package telegram

import (
	"fmt"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/domain"
	"github.com/louisbranch/bankdesk/internal/services/desk/flow"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// Template keys the admin can override through the key-value store.
const (
	templateWelcome   = "template:welcome"
	templateQueued    = "template:queued"
	templateCompleted = "template:completed"
)

var defaultTemplates = map[string]string{
	templateWelcome:   "Welcome. Use /register or /change to start a bank order.",
	templateQueued:    "All operators are busy right now. Your order #%d is queued; we will message you as soon as one is free.",
	templateCompleted: "Order #%d is complete. Thank you.",
}

// template resolves an admin-overridable message text.
func (b *Bot) template(key string) string {
	if b.kv != nil {
		if value, ok := b.kv.Get(key); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return defaultTemplates[key]
}

// renderStep turns a step into the prompt the user sees next.
func renderStep(step *domain.Step) string {
	if step == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Step %d: %s", step.Number, step.Text)

	switch payload := step.Payload.(type) {
	case domain.ScreenshotPayload, domain.UnknownPayload:
		count := step.EffectiveRequiredPhotos()
		if count == 1 {
			sb.WriteString("\n\nSend a screenshot when done.")
		} else {
			fmt.Fprintf(&sb, "\n\nSend %d screenshots when done.", count)
		}
	case domain.DataRequestPayload:
		sb.WriteString("\n\nReply with one line per field:")
		for _, field := range payload.Fields {
			marker := ""
			if field.Required {
				marker = " (required)"
			}
			fmt.Fprintf(&sb, "\n%s: ...%s", field.Name, marker)
		}
	case domain.RequisitesPayload:
		sb.WriteString("\n\nReply with one line per requisite:")
		for _, name := range payload.Required {
			fmt.Fprintf(&sb, "\n%s: ...", name)
		}
	}

	if len(step.Examples) > 0 {
		sb.WriteString("\n\nExamples:")
		for _, example := range step.Examples {
			sb.WriteString("\n" + example)
		}
	}
	return sb.String()
}

// renderOrderLine is the one-line order summary used in lists.
func renderOrderLine(order storage.OrderRecord) string {
	return fmt.Sprintf("#%d %s %s user=%d stage=%d status=%s",
		order.ID, order.BankName, order.Action, order.UserID, order.Stage, order.Status)
}

// announceAssignment tells a group it received an order, with the user's
// display name and the step they are on.
func renderAssignment(order storage.OrderRecord, step *domain.Step) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "New order %s from %s.", renderOrderLine(order), order.DisplayName)
	if step != nil {
		fmt.Fprintf(&sb, "\nCurrent step: %s", step.Text)
	}
	return sb.String()
}

// deliverReassignment notifies both sides after a queued order lands on a
// freed group.
func (b *Bot) deliverReassignment(reassigned *flow.Reassignment) {
	if reassigned == nil {
		return
	}
	b.reply(reassigned.Group.ChatID, renderAssignment(reassigned.Order, reassigned.Step))
	b.reply(reassigned.Order.UserID,
		fmt.Sprintf("An operator picked up your order #%d.", reassigned.Order.ID))
	if reassigned.Step != nil {
		b.reply(reassigned.Order.UserID, renderStep(reassigned.Step))
	}
}

// parseKeyValues splits "name: value" lines into a map. Lines without a
// colon are ignored.
func parseKeyValues(text string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			values[key] = value
		}
	}
	return values
}
