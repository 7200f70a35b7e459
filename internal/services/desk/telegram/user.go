package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/louisbranch/bankdesk/internal/services/desk/bridge"
	"github.com/louisbranch/bankdesk/internal/services/desk/domain"
	"github.com/louisbranch/bankdesk/internal/services/desk/flow"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

func (b *Bot) handleUserMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID

	if message.IsCommand() {
		switch message.Command() {
		case "start":
			b.reply(chatID, b.template(templateWelcome))
		case "register":
			b.handleActionCommand(ctx, message, storage.ActionRegister)
		case "change":
			b.handleActionCommand(ctx, message, storage.ActionChange)
		case "status":
			b.handleUserStatus(ctx, chatID, userID)
		default:
			if isAdminCommand(message.Command()) {
				b.handleAdminCommand(ctx, message)
				return
			}
			b.reply(chatID, "Unknown command. Use /register, /change or /status.")
		}
		return
	}

	if len(message.Photo) > 0 {
		b.handleUserPhoto(ctx, message)
		return
	}

	b.handleUserText(ctx, message)
}

// handleActionCommand lists banks when called bare, or starts the age gate
// for "/register <bank>".
func (b *Bot) handleActionCommand(ctx context.Context, message *tgbotapi.Message, action storage.Action) {
	chatID := message.Chat.ID
	bankName := strings.TrimSpace(message.CommandArguments())

	if bankName == "" {
		banks, err := b.cache.BanksSupporting(ctx, action)
		if err != nil {
			log.Printf("desk telegram: list banks failed err=%v", err)
			b.reply(chatID, "Could not load the bank list. Try again shortly.")
			return
		}
		if len(banks) == 0 {
			b.reply(chatID, "No banks are available for this action right now.")
			return
		}
		lines := make([]string, 0, len(banks))
		for _, bank := range banks {
			price, ok, err := b.cache.MinimumPrice(ctx, bank, action)
			if err != nil {
				log.Printf("desk telegram: bank price lookup failed bank=%s err=%v", bank, err)
			}
			if ok {
				lines = append(lines, fmt.Sprintf("%s (from %s UAH)", bank, price.String()))
				continue
			}
			lines = append(lines, bank)
		}
		b.reply(chatID, fmt.Sprintf("Available banks:\n%s\n\nUse /%s <bank> to start.",
			strings.Join(lines, "\n"), action))
		return
	}

	selection, err := b.engine.OnUserSelectsBankAction(ctx, bankName, action)
	if err != nil {
		if errors.Is(err, flow.ErrBankUnavailable) {
			b.reply(chatID, fmt.Sprintf("%s is not available for %s right now.", bankName, action))
			return
		}
		log.Printf("desk telegram: select bank failed bank=%s err=%v", bankName, err)
		b.reply(chatID, "Something went wrong. Try again shortly.")
		return
	}

	if selection.AgeGated {
		prompt := tgbotapi.NewMessage(chatID,
			fmt.Sprintf("%s requires you to be at least %d years old. Confirm?", bankName, selection.MinAge))
		prompt.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes", fmt.Sprintf("age:%s:%s", action, bankName)),
				tgbotapi.NewInlineKeyboardButtonData("No", "cancel"),
			),
		)
		if _, err := b.api.Send(prompt); err != nil {
			log.Printf("desk telegram: send failed chat_id=%d err=%v", chatID, err)
		}
		return
	}

	b.startOrder(ctx, message.From, bankName, action)
}

// startOrder creates the order once any age gate passed and announces the
// outcome to both sides.
func (b *Bot) startOrder(ctx context.Context, from *tgbotapi.User, bankName string, action storage.Action) {
	displayName := strings.TrimSpace(from.FirstName + " " + from.LastName)
	if from.UserName != "" {
		displayName = "@" + from.UserName
	}

	start, err := b.engine.OnAgeConfirmed(ctx, from.ID, displayName, bankName, action)
	if err != nil {
		log.Printf("desk telegram: order start failed user_id=%d bank=%s err=%v", from.ID, bankName, err)
		b.reply(from.ID, "Could not start the order. Try again shortly.")
		return
	}

	if start.Queued {
		b.reply(from.ID, fmt.Sprintf(b.template(templateQueued), start.Order.ID))
	} else {
		b.reply(from.ID, fmt.Sprintf("Order #%d started.", start.Order.ID))
		b.reply(start.Group.ChatID, renderAssignment(start.Order, start.Step))
	}
	b.reply(from.ID, renderStep(start.Step))
}

func (b *Bot) handleUserPhoto(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	order, err := b.store.LatestOpenOrderByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(userID, "You have no open order. Use /register or /change first.")
			return
		}
		log.Printf("desk telegram: load order failed user_id=%d err=%v", userID, err)
		return
	}

	// The last size is the largest rendition.
	photo := message.Photo[len(message.Photo)-1]
	progress, err := b.engine.OnArtifactSubmitted(ctx, order.ID, photo.FileID, photo.FileUniqueID)
	if err != nil {
		switch {
		case errors.Is(err, flow.ErrDuplicateArtifact):
			b.reply(userID, "You already sent this screenshot for the current step.")
		case errors.Is(err, flow.ErrWrongStep):
			b.reply(userID, "The current step does not take screenshots.")
		default:
			log.Printf("desk telegram: artifact failed order_id=%d err=%v", order.ID, err)
			b.reply(userID, "Could not accept the screenshot. Try again.")
		}
		return
	}

	b.reply(userID, "Screenshot received. Waiting for operator review.")
	if progress.Order.GroupID != 0 {
		b.forwardPhotoToGroup(ctx, progress.Order, photo.FileID)
	}
}

// forwardPhotoToGroup mirrors a submitted artifact into the operator chat
// for review.
func (b *Bot) forwardPhotoToGroup(ctx context.Context, order storage.OrderRecord, fileID string) {
	group, err := b.store.GetGroup(ctx, order.GroupID)
	if err != nil {
		log.Printf("desk telegram: load group failed group_id=%d err=%v", order.GroupID, err)
		return
	}
	photo := tgbotapi.NewPhoto(group.ChatID, tgbotapi.FileID(fileID))
	photo.Caption = fmt.Sprintf("%s\nApprove with /approve, reject with /reject <reason>.", renderOrderLine(order))
	if _, err := b.api.Send(photo); err != nil {
		log.Printf("desk telegram: send failed chat_id=%d err=%v", group.ChatID, err)
	}
}

// handleUserText first tries structured "name: value" submissions against
// the current step, then falls back to the free-text relay.
func (b *Bot) handleUserText(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	values := parseKeyValues(message.Text)
	if len(values) > 0 {
		if b.trySubmitValues(ctx, userID, values) {
			return
		}
	}

	delivery, err := b.router.FromUser(ctx, userID, message.Text)
	if err != nil {
		if errors.Is(err, bridge.ErrNoRoute) {
			b.reply(userID, "You have no open order. Use /register or /change first.")
			return
		}
		log.Printf("desk telegram: relay failed user_id=%d err=%v", userID, err)
		return
	}
	prefix := fmt.Sprintf("#%d %s: ", delivery.Order.ID, delivery.Order.DisplayName)
	b.reply(delivery.ChatID, prefix+delivery.Text)
}

// trySubmitValues routes structured values to the data or requisites step
// matching the order's position. It reports whether the message was consumed.
func (b *Bot) trySubmitValues(ctx context.Context, userID int64, values map[string]string) bool {
	order, err := b.store.LatestOpenOrderByUser(ctx, userID)
	if err != nil {
		return false
	}

	progress, err := b.engine.OnUserDataSubmitted(ctx, order.ID, values)
	if err == nil {
		b.announceProgress(userID, progress)
		return true
	}
	switch {
	case errors.Is(err, flow.ErrReuseConfirmationPending):
		b.reply(userID, "Your contact data needs an operator check. Please wait.")
		b.askReuseDecision(ctx, progress.Order)
		return true
	case errors.Is(err, flow.ErrMissingField), errors.Is(err, domain.ErrInvalidPhone), errors.Is(err, domain.ErrInvalidEmail):
		b.reply(userID, err.Error())
		return true
	case errors.Is(err, flow.ErrWrongStep):
		// Maybe it is the requisites step instead.
	default:
		log.Printf("desk telegram: data submit failed order_id=%d err=%v", order.ID, err)
		return true
	}

	progress, err = b.engine.OnRequisitesSubmitted(ctx, order.ID, values)
	if err == nil {
		b.announceProgress(userID, progress)
		return true
	}
	if errors.Is(err, flow.ErrMissingRequisite) {
		b.reply(userID, err.Error())
		return true
	}
	return false
}

// askReuseDecision puts the accept/decline choice in front of the order's
// group, or the admin chat while the order is queued.
func (b *Bot) askReuseDecision(ctx context.Context, order storage.OrderRecord) {
	chatID := b.adminChatID
	if order.GroupID != 0 {
		group, err := b.store.GetGroup(ctx, order.GroupID)
		if err == nil {
			chatID = group.ChatID
		}
	}
	if chatID == 0 {
		return
	}
	prompt := tgbotapi.NewMessage(chatID,
		fmt.Sprintf("Order #%d submitted contact data already used for %s. Accept anyway?", order.ID, order.BankName))
	prompt.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Accept", fmt.Sprintf("reuse_yes:%d", order.ID)),
			tgbotapi.NewInlineKeyboardButtonData("Decline", fmt.Sprintf("reuse_no:%d", order.ID)),
		),
	)
	if _, err := b.api.Send(prompt); err != nil {
		log.Printf("desk telegram: send failed chat_id=%d err=%v", chatID, err)
	}
}

// announceProgress tells the user where their order stands after a
// successful submission.
func (b *Bot) announceProgress(userID int64, progress flow.Progress) {
	if progress.Completed {
		b.reply(userID, fmt.Sprintf(b.template(templateCompleted), progress.Order.ID))
		b.deliverReassignment(progress.Reassigned)
		return
	}
	b.reply(userID, renderStep(progress.Step))
}

func (b *Bot) handleUserStatus(ctx context.Context, chatID, userID int64) {
	order, err := b.store.LatestOpenOrderByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, "You have no open order.")
			return
		}
		log.Printf("desk telegram: load order failed user_id=%d err=%v", userID, err)
		return
	}
	state := "with an operator"
	if order.GroupID == 0 {
		state = "queued"
	}
	b.reply(chatID, fmt.Sprintf("Order #%d (%s %s) is %s, step %d.",
		order.ID, order.BankName, order.Action, state, order.Stage+1))
}
