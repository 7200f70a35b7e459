package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

var adminCommands = map[string]bool{
	"bank_set":     true,
	"bank_del":     true,
	"step_set":     true,
	"step_del":     true,
	"group_add":    true,
	"group_del":    true,
	"reload":       true,
	"template_set": true,
	"admin_add":    true,
	"admin_del":    true,
	"form":         true,
}

func isAdminCommand(command string) bool {
	return adminCommands[command]
}

func (b *Bot) handleAdminCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	if !b.isAdmin(message.From.ID) {
		b.reply(chatID, "This command needs admin rights.")
		return
	}
	args := strings.TrimSpace(message.CommandArguments())

	switch message.Command() {
	case "bank_set":
		b.handleBankSet(ctx, chatID, args)
	case "bank_del":
		b.handleBankDel(ctx, chatID, args)
	case "step_set":
		b.handleStepSet(ctx, chatID, args)
	case "step_del":
		b.handleStepDel(ctx, chatID, args)
	case "group_add":
		b.handleGroupAdd(ctx, message, args)
	case "group_del":
		b.handleGroupDel(ctx, chatID)
	case "reload":
		b.cache.Invalidate()
		b.reply(chatID, "Instruction cache invalidated.")
	case "template_set":
		b.handleTemplateSet(chatID, args)
	case "admin_add", "admin_del":
		b.handleAdminList(chatID, message.Command(), args)
	case "form":
		b.handleForm(ctx, chatID, args)
	}
}

// handleBankSet creates or updates a bank row from a JSON body:
// /bank_set {"name":"mono","active":true,"register":{"enabled":true,"min_age":18,"min_price":"150"}}
func (b *Bot) handleBankSet(ctx context.Context, chatID int64, args string) {
	var body struct {
		Name     string `json:"name"`
		Active   bool   `json:"active"`
		Register struct {
			Enabled  bool   `json:"enabled"`
			MinAge   int    `json:"min_age"`
			MinPrice string `json:"min_price"`
		} `json:"register"`
		Change struct {
			Enabled  bool   `json:"enabled"`
			MinAge   int    `json:"min_age"`
			MinPrice string `json:"min_price"`
		} `json:"change"`
	}
	if err := json.Unmarshal([]byte(args), &body); err != nil || strings.TrimSpace(body.Name) == "" {
		b.reply(chatID, `Usage: /bank_set {"name":"...","active":true,"register":{...},"change":{...}}`)
		return
	}
	now := time.Now()
	err := b.store.PutBank(ctx, storage.BankRecord{
		Name:             body.Name,
		Active:           body.Active,
		RegisterEnabled:  body.Register.Enabled,
		RegisterMinAge:   body.Register.MinAge,
		RegisterMinPrice: body.Register.MinPrice,
		ChangeEnabled:    body.Change.Enabled,
		ChangeMinAge:     body.Change.MinAge,
		ChangeMinPrice:   body.Change.MinPrice,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		log.Printf("desk telegram: put bank failed name=%s err=%v", body.Name, err)
		b.reply(chatID, "Could not store the bank.")
		return
	}
	b.cache.Invalidate()
	b.reply(chatID, fmt.Sprintf("Bank %s stored.", body.Name))
}

func (b *Bot) handleBankDel(ctx context.Context, chatID int64, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		b.reply(chatID, "Usage: /bank_del <name>")
		return
	}
	if err := b.store.DeleteBank(ctx, name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("Bank %s not found.", name))
			return
		}
		log.Printf("desk telegram: delete bank failed name=%s err=%v", name, err)
		b.reply(chatID, "Could not delete the bank.")
		return
	}
	b.cache.Invalidate()
	b.reply(chatID, fmt.Sprintf("Bank %s deleted.", name))
}

// handleStepSet upserts one instruction step from a JSON body. Step numbers
// start at 1:
// /step_set {"bank":"mono","action":"register","number":1,"kind":"screenshot","text":"...","required_photos":2}
func (b *Bot) handleStepSet(ctx context.Context, chatID int64, args string) {
	var body struct {
		Bank           string          `json:"bank"`
		Action         string          `json:"action"`
		Number         int             `json:"number"`
		Kind           string          `json:"kind"`
		Text           string          `json:"text"`
		Examples       []string        `json:"examples"`
		MinAge         int             `json:"min_age"`
		RequiredPhotos int             `json:"required_photos"`
		Payload        json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(args), &body); err != nil || body.Bank == "" || body.Kind == "" || body.Number < 1 {
		b.reply(chatID, `Usage: /step_set {"bank":"...","action":"register","number":1,"kind":"...","text":"..."}`)
		return
	}
	examples, err := json.Marshal(body.Examples)
	if err != nil {
		b.reply(chatID, "Could not encode the examples.")
		return
	}
	record := storage.StepRecord{
		BankName:       body.Bank,
		Action:         storage.Action(body.Action),
		Number:         body.Number,
		Kind:           body.Kind,
		Text:           body.Text,
		ExamplesJSON:   string(examples),
		MinAge:         body.MinAge,
		RequiredPhotos: body.RequiredPhotos,
		PayloadJSON:    string(body.Payload),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := b.store.UpsertStep(ctx, record); err != nil {
		log.Printf("desk telegram: upsert step failed bank=%s err=%v", body.Bank, err)
		b.reply(chatID, "Could not store the step.")
		return
	}
	b.cache.Invalidate()
	b.reply(chatID, fmt.Sprintf("Step %d of %s %s stored.", body.Number, body.Bank, body.Action))
}

func (b *Bot) handleStepDel(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) != 3 {
		b.reply(chatID, "Usage: /step_del <bank> <action> <number>")
		return
	}
	number, err := strconv.Atoi(fields[2])
	if err != nil {
		b.reply(chatID, "Usage: /step_del <bank> <action> <number>")
		return
	}
	if err := b.store.DeleteStep(ctx, fields[0], storage.Action(fields[1]), number); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, "Step not found.")
			return
		}
		log.Printf("desk telegram: delete step failed bank=%s err=%v", fields[0], err)
		b.reply(chatID, "Could not delete the step.")
		return
	}
	b.cache.Invalidate()
	b.reply(chatID, "Step deleted.")
}

// handleGroupAdd registers the current chat as an operator group. An
// optional bank name dedicates the group to that bank's orders.
func (b *Bot) handleGroupAdd(ctx context.Context, message *tgbotapi.Message, args string) {
	chatID := message.Chat.ID
	now := time.Now()
	record := storage.GroupRecord{
		ChatID:    chatID,
		Name:      message.Chat.Title,
		BankName:  strings.TrimSpace(args),
		CreatedAt: now,
		UpdatedAt: now,
	}
	groupID, err := b.store.PutGroup(ctx, record)
	if err != nil {
		log.Printf("desk telegram: put group failed chat_id=%d err=%v", chatID, err)
		b.reply(chatID, "Could not register this group.")
		return
	}
	if record.BankName != "" {
		b.reply(chatID, fmt.Sprintf("Group %d registered for bank %s.", groupID, record.BankName))
		return
	}
	b.reply(chatID, fmt.Sprintf("Group %d registered.", groupID))
}

func (b *Bot) handleGroupDel(ctx context.Context, chatID int64) {
	group, err := b.store.GetGroupByChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, "This chat is not a registered group.")
			return
		}
		log.Printf("desk telegram: load group failed chat_id=%d err=%v", chatID, err)
		return
	}
	if err := b.store.DeleteGroup(ctx, group.ID); err != nil {
		log.Printf("desk telegram: delete group failed group_id=%d err=%v", group.ID, err)
		b.reply(chatID, "Could not delete this group.")
		return
	}
	b.reply(chatID, "Group deleted.")
}

func (b *Bot) handleTemplateSet(chatID int64, args string) {
	name, text, found := strings.Cut(args, " ")
	if !found || strings.TrimSpace(text) == "" {
		b.reply(chatID, "Usage: /template_set <name> <text>")
		return
	}
	key := "template:" + strings.TrimSpace(name)
	if _, known := defaultTemplates[key]; !known {
		b.reply(chatID, "Unknown template. Known: welcome, queued, completed.")
		return
	}
	if b.kv == nil {
		b.reply(chatID, "Template storage is not configured.")
		return
	}
	if err := b.kv.Set(key, strings.TrimSpace(text)); err != nil {
		log.Printf("desk telegram: set template failed key=%s err=%v", key, err)
		b.reply(chatID, "Could not store the template.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Template %s updated.", name))
}

func (b *Bot) handleAdminList(chatID int64, command, args string) {
	userID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || userID <= 0 {
		b.reply(chatID, fmt.Sprintf("Usage: /%s <user id>", command))
		return
	}
	if b.kv == nil {
		b.reply(chatID, "Admin storage is not configured.")
		return
	}
	key := fmt.Sprintf("admin:%d", userID)
	if command == "admin_add" {
		if err := b.kv.Set(key, "1"); err != nil {
			log.Printf("desk telegram: set admin failed key=%s err=%v", key, err)
			b.reply(chatID, "Could not store the admin.")
			return
		}
		b.reply(chatID, fmt.Sprintf("User %d is now an admin.", userID))
		return
	}
	if err := b.kv.Delete(key); err != nil {
		log.Printf("desk telegram: delete admin failed key=%s err=%v", key, err)
		b.reply(chatID, "Could not remove the admin.")
		return
	}
	b.reply(chatID, fmt.Sprintf("User %d is no longer an admin.", userID))
}

func (b *Bot) handleForm(ctx context.Context, chatID int64, args string) {
	orderID, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(args), "#"), 10, 64)
	if err != nil || orderID <= 0 {
		b.reply(chatID, "Usage: /form <order id>")
		return
	}
	form, err := b.store.GetForm(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("No form for order #%d.", orderID))
			return
		}
		log.Printf("desk telegram: get form failed order_id=%d err=%v", orderID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Form %s\n%s", form.FormID, form.PayloadJSON))
}
