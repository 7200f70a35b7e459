// Package bridge routes free-text messages between users and operator
// groups. It resolves which order a message belongs to and hands the text
// through verbatim; rendering and delivery stay with the transport.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/flow"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// ErrNoRoute indicates no open order could be resolved for the message.
var ErrNoRoute = errors.New("no open order matches this message")

var (
	orderTagPattern = regexp.MustCompile(`^(?:#|(?i:OrderID)\s+)(\d+)\b`)
	codePattern     = regexp.MustCompile(`^\d{3,8}$`)
)

// Store is the read surface the router resolves targets against.
type Store interface {
	storage.OrderStore
	storage.GroupStore
}

// Engine is the progression surface the router notifies about codes.
type Engine interface {
	OnCodeDelivered(ctx context.Context, orderID int64, actor string) (flow.Progress, error)
}

// Delivery is one resolved relay: the order it belongs to, the chat to
// forward to, and the untouched text.
type Delivery struct {
	Order storage.OrderRecord
	// ChatID is the destination chat. For operator messages this is the
	// user's private chat; for user messages the group chat or the admin
	// fallback when no group holds the order yet.
	ChatID int64
	Text   string
	// Code reports that the text is a bare 3 to 8 digit verification code.
	Code bool
	// AdminFallback reports the message went to the admin chat because the
	// order is still queued.
	AdminFallback bool
}

// Router resolves relay targets for free text in both directions.
type Router struct {
	store       Store
	engine      Engine
	adminChatID int64
}

// New creates a router. adminChatID receives user messages whose order has
// no group yet; zero disables the fallback.
func New(store Store, engine Engine, adminChatID int64) *Router {
	return &Router{store: store, engine: engine, adminChatID: adminChatID}
}

// FromGroup routes free text typed in an operator group to the user of the
// resolved order. Resolution tries an explicit leading order tag first, then
// the group's current-order pointer, then the group's latest open order.
func (r *Router) FromGroup(ctx context.Context, groupChatID int64, actor, text string) (Delivery, error) {
	group, err := r.store.GetGroupByChat(ctx, groupChatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Delivery{}, ErrNoRoute
		}
		return Delivery{}, fmt.Errorf("resolve group for chat %d: %w", groupChatID, err)
	}

	order, text, err := r.resolveGroupTarget(ctx, group, text)
	if err != nil {
		return Delivery{}, err
	}

	delivery := Delivery{
		Order:  order,
		ChatID: order.UserID,
		Text:   text,
		Code:   isCode(text),
	}
	if delivery.Code && r.engine != nil {
		if _, err := r.engine.OnCodeDelivered(ctx, order.ID, actor); err != nil &&
			!errors.Is(err, flow.ErrOrderCompleted) {
			return Delivery{}, fmt.Errorf("mark code delivered on order %d: %w", order.ID, err)
		}
	}
	return delivery, nil
}

// FromUser routes free text from a user's private chat to the operator
// group holding their latest open order, or to the admin chat while the
// order is still queued.
func (r *Router) FromUser(ctx context.Context, userID int64, text string) (Delivery, error) {
	order, err := r.store.LatestOpenOrderByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Delivery{}, ErrNoRoute
		}
		return Delivery{}, fmt.Errorf("resolve open order for user %d: %w", userID, err)
	}

	delivery := Delivery{Order: order, Text: text, Code: isCode(text)}
	if order.GroupID == 0 {
		if r.adminChatID == 0 {
			return Delivery{}, ErrNoRoute
		}
		delivery.ChatID = r.adminChatID
		delivery.AdminFallback = true
		return delivery, nil
	}

	group, err := r.store.GetGroup(ctx, order.GroupID)
	if err != nil {
		return Delivery{}, fmt.Errorf("resolve group %d: %w", order.GroupID, err)
	}
	delivery.ChatID = group.ChatID
	return delivery, nil
}

// resolveGroupTarget picks the order a group message addresses. A leading
// #<id> or "OrderID <id>" tag wins, is stripped from the forwarded text, and
// becomes the group's current pointer for later untagged messages.
func (r *Router) resolveGroupTarget(ctx context.Context, group storage.GroupRecord, text string) (storage.OrderRecord, string, error) {
	trimmed := strings.TrimSpace(text)
	if match := orderTagPattern.FindStringSubmatch(trimmed); match != nil {
		orderID, err := strconv.ParseInt(match[1], 10, 64)
		if err == nil {
			order, err := r.store.GetOrder(ctx, orderID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return storage.OrderRecord{}, "", ErrNoRoute
				}
				return storage.OrderRecord{}, "", fmt.Errorf("resolve tagged order %d: %w", orderID, err)
			}
			if err := r.store.SetCurrentOrder(ctx, group.ID, order.ID); err != nil {
				return storage.OrderRecord{}, "", fmt.Errorf("set current order %d on group %d: %w", order.ID, group.ID, err)
			}
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, match[0]))
			return order, rest, nil
		}
	}

	if group.CurrentOrderID != 0 {
		order, err := r.store.GetOrder(ctx, group.CurrentOrderID)
		if err == nil && order.Status != storage.OrderStatusCompleted {
			return order, trimmed, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return storage.OrderRecord{}, "", fmt.Errorf("resolve current order %d: %w", group.CurrentOrderID, err)
		}
	}

	order, err := r.store.LatestOpenOrderByGroup(ctx, group.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.OrderRecord{}, "", ErrNoRoute
		}
		return storage.OrderRecord{}, "", fmt.Errorf("resolve latest order for group %d: %w", group.ID, err)
	}
	return order, trimmed, nil
}

func isCode(text string) bool {
	return codePattern.MatchString(strings.TrimSpace(text))
}
