package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/louisbranch/bankdesk/internal/services/desk/bridge"
	"github.com/louisbranch/bankdesk/internal/services/desk/flow"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

func (b *Bot) handleGroupMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	if message.IsCommand() {
		b.handleGroupCommand(ctx, message)
		return
	}
	if strings.TrimSpace(message.Text) == "" {
		return
	}

	delivery, err := b.router.FromGroup(ctx, chatID, operatorActor(message.From), message.Text)
	if err != nil {
		if errors.Is(err, bridge.ErrNoRoute) {
			b.reply(chatID, "No open order matches this message. Tag one with #<order id>.")
			return
		}
		log.Printf("desk telegram: relay failed chat_id=%d err=%v", chatID, err)
		return
	}
	b.reply(delivery.ChatID, delivery.Text)
	if delivery.Code {
		b.reply(chatID, fmt.Sprintf("Code delivered to order #%d.", delivery.Order.ID))
	}
}

func (b *Bot) handleGroupCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	actor := operatorActor(message.From)
	args := strings.TrimSpace(message.CommandArguments())

	if isAdminCommand(message.Command()) {
		b.handleAdminCommand(ctx, message)
		return
	}

	group, err := b.store.GetGroupByChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, "This chat is not registered as an operator group.")
			return
		}
		log.Printf("desk telegram: load group failed chat_id=%d err=%v", chatID, err)
		return
	}

	switch message.Command() {
	case "approve":
		b.withTargetOrder(ctx, group, args, func(orderID int64) {
			progress, err := b.engine.OnArtifactApproved(ctx, orderID, actor)
			b.reportProgress(ctx, chatID, orderID, progress, err)
		})
	case "reject":
		reason := args
		b.withTargetOrder(ctx, group, "", func(orderID int64) {
			progress, err := b.engine.OnArtifactRejected(ctx, orderID, actor, reason)
			if err != nil {
				b.reportProgress(ctx, chatID, orderID, progress, err)
				return
			}
			b.reply(chatID, fmt.Sprintf("Artifacts on order #%d rejected.", orderID))
			b.reply(progress.Order.UserID,
				fmt.Sprintf("Your screenshots were rejected: %s\nPlease resubmit.", reason))
		})
	case "delivered":
		b.withTargetOrder(ctx, group, args, func(orderID int64) {
			progress, err := b.engine.OnOperatorDataDelivered(ctx, orderID, actor)
			b.reportProgress(ctx, chatID, orderID, progress, err)
		})
	case "code":
		b.withTargetOrder(ctx, group, args, func(orderID int64) {
			progress, err := b.engine.OnCodeRequested(ctx, orderID, actor)
			if err != nil {
				b.reportProgress(ctx, chatID, orderID, progress, err)
				return
			}
			b.reply(progress.Order.UserID, "The operator asked for your verification code. Reply with it here.")
			b.reply(chatID, fmt.Sprintf("Order #%d is awaiting a code.", orderID))
		})
	case "finish":
		if strings.EqualFold(strings.TrimSpace(args), "all") {
			b.handleFinishAll(ctx, chatID, actor)
			return
		}
		b.withTargetOrder(ctx, group, args, func(orderID int64) {
			progress, err := b.engine.OnOrderFinished(ctx, orderID, actor)
			b.reportProgress(ctx, chatID, orderID, progress, err)
		})
	case "free":
		reassigned, err := b.engine.OnGroupFreed(ctx, group.ID)
		if err != nil {
			log.Printf("desk telegram: free group failed group_id=%d err=%v", group.ID, err)
			b.reply(chatID, "Could not free this group.")
			return
		}
		if reassigned == nil {
			b.reply(chatID, "Group freed. The queue is empty.")
			return
		}
		b.deliverReassignment(reassigned)
	case "current":
		b.handleSetCurrent(ctx, group, args)
	case "queue":
		b.handleQueueList(ctx, chatID)
	case "history":
		b.handleHistory(ctx, chatID, args)
	case "stats":
		b.handleStats(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command.")
	}
}

// withTargetOrder resolves the order a group command addresses: an explicit
// id argument wins, then the group's current pointer, then its latest open
// order.
func (b *Bot) withTargetOrder(ctx context.Context, group storage.GroupRecord, args string, run func(orderID int64)) {
	if args != "" {
		orderID, err := strconv.ParseInt(strings.TrimPrefix(args, "#"), 10, 64)
		if err == nil && orderID > 0 {
			run(orderID)
			return
		}
	}
	if group.CurrentOrderID != 0 {
		run(group.CurrentOrderID)
		return
	}
	order, err := b.store.LatestOpenOrderByGroup(ctx, group.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(group.ChatID, "This group has no open order. Tag one with #<order id>.")
			return
		}
		log.Printf("desk telegram: resolve order failed group_id=%d err=%v", group.ID, err)
		return
	}
	run(order.ID)
}

// reportProgress renders the common outcomes of a progression command.
func (b *Bot) reportProgress(ctx context.Context, chatID, orderID int64, progress flow.Progress, err error) {
	if err != nil {
		switch {
		case errors.Is(err, flow.ErrOrderCompleted):
			b.reply(chatID, fmt.Sprintf("Order #%d is already completed.", orderID))
		case errors.Is(err, flow.ErrWrongStep):
			b.reply(chatID, fmt.Sprintf("Order #%d is not on a matching step.", orderID))
		default:
			log.Printf("desk telegram: command failed order_id=%d err=%v", orderID, err)
			b.reply(chatID, "The command failed. Check the logs.")
		}
		return
	}

	if progress.Completed {
		b.reply(chatID, fmt.Sprintf("Order #%d completed.", progress.Order.ID))
		b.reply(progress.Order.UserID, fmt.Sprintf(b.template(templateCompleted), progress.Order.ID))
		b.deliverReassignment(progress.Reassigned)
		return
	}
	b.reply(chatID, fmt.Sprintf("Order #%d moved to step %d.", progress.Order.ID, progress.Order.Stage+1))
	b.reply(progress.Order.UserID, renderStep(progress.Step))
}

// handleFinishAll force-completes every open order, batching the listing so
// a long backlog does not load at once. Orders that refuse to finish are
// logged and skipped.
func (b *Bot) handleFinishAll(ctx context.Context, chatID int64, actor string) {
	const batch = 100
	finished := 0
	for {
		orders, err := b.store.ListOrders(ctx, storage.OrderStatusInProgress, batch)
		if err != nil {
			log.Printf("desk telegram: list open orders failed err=%v", err)
			b.reply(chatID, "Could not load the open orders.")
			return
		}
		if len(orders) == 0 {
			break
		}
		failed := 0
		for _, order := range orders {
			progress, err := b.engine.OnOrderFinished(ctx, order.ID, actor)
			if err != nil {
				failed++
				log.Printf("desk telegram: finish failed order_id=%d err=%v", order.ID, err)
				continue
			}
			finished++
			b.reply(order.UserID, fmt.Sprintf(b.template(templateCompleted), order.ID))
			b.deliverReassignment(progress.Reassigned)
		}
		if failed == len(orders) || len(orders) < batch {
			break
		}
	}
	b.reply(chatID, fmt.Sprintf("Finished %d orders.", finished))
}

// handleSetCurrent repoints the group's current-order pointer used by bare
// commands and the free-text relay.
func (b *Bot) handleSetCurrent(ctx context.Context, group storage.GroupRecord, args string) {
	orderID, err := strconv.ParseInt(strings.TrimPrefix(args, "#"), 10, 64)
	if err != nil || orderID <= 0 {
		b.reply(group.ChatID, "Usage: /current <order id>")
		return
	}
	if _, err := b.store.GetOrder(ctx, orderID); err != nil {
		b.reply(group.ChatID, fmt.Sprintf("Order #%d not found.", orderID))
		return
	}
	if err := b.store.SetCurrentOrder(ctx, group.ID, orderID); err != nil {
		log.Printf("desk telegram: set current failed group_id=%d err=%v", group.ID, err)
		b.reply(group.ChatID, "Could not set the current order.")
		return
	}
	b.reply(group.ChatID, fmt.Sprintf("Current order is now #%d.", orderID))
}

func (b *Bot) handleQueueList(ctx context.Context, chatID int64) {
	queued, err := b.store.ListQueued(ctx)
	if err != nil {
		log.Printf("desk telegram: list queue failed err=%v", err)
		return
	}
	if len(queued) == 0 {
		b.reply(chatID, "The queue is empty.")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d order(s) queued:", len(queued))
	for _, entry := range queued {
		fmt.Fprintf(&sb, "\n#%d %s (since %s)", entry.OrderID, entry.BankName,
			entry.EnqueuedAt.Format("15:04:05"))
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) handleHistory(ctx context.Context, chatID int64, args string) {
	orderID, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(args), "#"), 10, 64)
	if err != nil || orderID <= 0 {
		b.reply(chatID, "Usage: /history <order id>")
		return
	}
	entries, err := b.store.ListLog(ctx, orderID)
	if err != nil {
		log.Printf("desk telegram: list log failed order_id=%d err=%v", orderID, err)
		return
	}
	if len(entries) == 0 {
		b.reply(chatID, fmt.Sprintf("No history for order #%d.", orderID))
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "History of order #%d:", orderID)
	for _, entry := range entries {
		fmt.Fprintf(&sb, "\n%s %s %s", entry.CreatedAt.Format("01-02 15:04:05"), entry.Actor, entry.Action)
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	open, err := b.store.CountOrdersByStatus(ctx, storage.OrderStatusInProgress)
	if err != nil {
		log.Printf("desk telegram: count orders failed err=%v", err)
		return
	}
	done, err := b.store.CountOrdersByStatus(ctx, storage.OrderStatusCompleted)
	if err != nil {
		log.Printf("desk telegram: count orders failed err=%v", err)
		return
	}
	queued, err := b.store.ListQueued(ctx)
	if err != nil {
		log.Printf("desk telegram: list queue failed err=%v", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Open: %d\nCompleted: %d\nQueued: %d", open, done, len(queued)))
}

func operatorActor(from *tgbotapi.User) string {
	if from == nil {
		return "operator"
	}
	if from.UserName != "" {
		return "operator:@" + from.UserName
	}
	return fmt.Sprintf("operator:%d", from.ID)
}
