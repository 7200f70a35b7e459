package telegram

import (
	"context"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.From == nil || callback.Message == nil {
		return
	}
	defer func() {
		if _, err := b.api.Send(tgbotapi.NewCallback(callback.ID, "")); err != nil {
			log.Printf("desk telegram: ack callback failed err=%v", err)
		}
	}()

	data := callback.Data
	switch {
	case data == "cancel":
		b.reply(callback.Message.Chat.ID, "Cancelled.")
	case strings.HasPrefix(data, "age:"):
		b.handleAgeCallback(ctx, callback)
	case strings.HasPrefix(data, "reuse_yes:"), strings.HasPrefix(data, "reuse_no:"):
		b.handleReuseCallback(ctx, callback)
	}
}

func (b *Bot) handleAgeCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	parts := strings.SplitN(callback.Data, ":", 3)
	if len(parts) != 3 {
		return
	}
	action := storage.Action(parts[1])
	bankName := parts[2]
	if action != storage.ActionRegister && action != storage.ActionChange {
		return
	}
	b.startOrder(ctx, callback.From, bankName, action)
}

func (b *Bot) handleReuseCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	kind, rawID, found := strings.Cut(callback.Data, ":")
	if !found {
		return
	}
	orderID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || orderID <= 0 {
		return
	}
	accepted := kind == "reuse_yes"
	chatID := callback.Message.Chat.ID

	progress, err := b.engine.OnReuseDecision(ctx, orderID, operatorActor(callback.From), accepted)
	if err != nil {
		log.Printf("desk telegram: reuse decision failed order_id=%d err=%v", orderID, err)
		b.reply(chatID, "The decision could not be applied.")
		return
	}
	if !accepted {
		b.reply(chatID, "Declined. The user must submit different contact data.")
		b.reply(progress.Order.UserID, "Your contact data was declined. Please submit different details.")
		return
	}
	b.reply(chatID, "Accepted.")
	b.announceProgress(progress.Order.UserID, progress)
}
