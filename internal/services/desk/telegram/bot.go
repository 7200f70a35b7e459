// Package telegram is the chat transport for the desk service. It parses
// updates into engine and router calls and renders their results back into
// chat messages. All state lives behind the engine; the bot itself only
// keeps the connection.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/louisbranch/bankdesk/internal/platform/timeouts"
	"github.com/louisbranch/bankdesk/internal/services/desk/bridge"
	"github.com/louisbranch/bankdesk/internal/services/desk/dispatch"
	"github.com/louisbranch/bankdesk/internal/services/desk/flow"
	"github.com/louisbranch/bankdesk/internal/services/desk/instructions"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// API is the slice of the Telegram client the bot uses. Tests substitute a
// recorder.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Store is the persistence surface the transport reads and administers.
type Store interface {
	storage.BankStore
	storage.StepStore
	storage.OrderStore
	storage.GroupStore
	storage.QueueStore
	storage.LogStore
	storage.FormStore
}

// Bot drives the update loop.
type Bot struct {
	api         API
	store       Store
	kv          storage.KVStore
	engine      *flow.Engine
	router      *bridge.Router
	cache       *instructions.Cache
	allocator   *dispatch.Allocator
	adminChatID int64
	seedAdmins  map[int64]bool
}

// Options carries the collaborators a Bot needs.
type Options struct {
	API         API
	Store       Store
	KV          storage.KVStore
	Engine      *flow.Engine
	Router      *bridge.Router
	Cache       *instructions.Cache
	Allocator   *dispatch.Allocator
	AdminChatID int64
	AdminIDs    []int64
}

// New creates a bot over its collaborators.
func New(opts Options) (*Bot, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("telegram api is required")
	}
	if opts.Store == nil || opts.Engine == nil || opts.Router == nil || opts.Cache == nil {
		return nil, fmt.Errorf("telegram collaborators are required")
	}
	seed := make(map[int64]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		seed[id] = true
	}
	return &Bot{
		api:         opts.API,
		store:       opts.Store,
		kv:          opts.KV,
		engine:      opts.Engine,
		router:      opts.Router,
		cache:       opts.Cache,
		allocator:   opts.Allocator,
		adminChatID: opts.AdminChatID,
		seedAdmins:  seed,
	}, nil
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.HandleUpdate)
	defer cancel()
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}
	if message.Chat.IsPrivate() {
		b.handleUserMessage(ctx, message)
		return
	}
	b.handleGroupMessage(ctx, message)
}

// reply sends plain text to a chat, logging rather than failing the update.
func (b *Bot) reply(chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("desk telegram: send failed chat_id=%d err=%v", chatID, err)
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	if b.seedAdmins[userID] {
		return true
	}
	if b.kv == nil {
		return false
	}
	_, ok := b.kv.Get(fmt.Sprintf("admin:%d", userID))
	return ok
}
