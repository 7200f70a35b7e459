// Package app composes and runs the desk process boundary.
//
// It wires the SQLite store, the instruction cache, the flow engine, the
// group allocator, and the Telegram transport into one long-running bot so
// order decisions are made from one source of truth.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/louisbranch/bankdesk/internal/services/desk/bridge"
	"github.com/louisbranch/bankdesk/internal/services/desk/dispatch"
	"github.com/louisbranch/bankdesk/internal/services/desk/flow"
	"github.com/louisbranch/bankdesk/internal/services/desk/guard"
	"github.com/louisbranch/bankdesk/internal/services/desk/instructions"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage/file"
	desksqlite "github.com/louisbranch/bankdesk/internal/services/desk/storage/sqlite"
	"github.com/louisbranch/bankdesk/internal/services/desk/telegram"
)

// Config holds the runtime settings for the desk app.
type Config struct {
	Token           string
	DBPath          string
	KVPath          string
	LockPath        string
	AdminChatID     int64
	AdminIDs        []int64
	InstructionsTTL time.Duration
}

// App owns the composed desk service.
type App struct {
	store *desksqlite.Store
	kv    *file.Store
	lock  *lockFile
	bot   *telegram.Bot
}

// New composes a desk app from its configuration.
func New(cfg Config) (*App, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	lock, err := acquireLock(cfg.LockPath)
	if err != nil {
		return nil, err
	}

	store, err := desksqlite.Open(cfg.DBPath)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("open desk store: %w", err)
	}

	kv, err := file.Open(cfg.KVPath)
	if err != nil {
		_ = store.Close()
		lock.release()
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		_ = store.Close()
		lock.release()
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	log.Printf("desk: authorized username=%s", api.Self.UserName)

	cache := instructions.New(store, cfg.InstructionsTTL, nil)
	allocator := dispatch.New(store, nil)
	dataGuard := guard.New(store, nil)
	engine := flow.New(store, cache, allocator, dataGuard, nil)
	router := bridge.New(store, engine, cfg.AdminChatID)

	bot, err := telegram.New(telegram.Options{
		API:         api,
		Store:       store,
		KV:          kv,
		Engine:      engine,
		Router:      router,
		Cache:       cache,
		Allocator:   allocator,
		AdminChatID: cfg.AdminChatID,
		AdminIDs:    cfg.AdminIDs,
	})
	if err != nil {
		_ = store.Close()
		lock.release()
		return nil, fmt.Errorf("build telegram bot: %w", err)
	}

	return &App{store: store, kv: kv, lock: lock, bot: bot}, nil
}

// Run consumes Telegram updates until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	if err := a.bot.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("run telegram bot: %w", err)
	}
	return nil
}

// Close releases the store and the process lock.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("desk: close store err=%v", err)
		}
	}
	if a.lock != nil {
		a.lock.release()
	}
}

// Run composes an app from cfg and consumes updates until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	app, err := New(cfg)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
