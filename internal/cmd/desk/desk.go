// Package desk parses desk command flags and composes the bot entrypoint.
package desk

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/louisbranch/bankdesk/internal/platform/cmd"
	"github.com/louisbranch/bankdesk/internal/services/desk/app"
)

// Config holds desk command configuration.
type Config struct {
	Token           string        `env:"BANKDESK_TELEGRAM_TOKEN"`
	DBPath          string        `env:"BANKDESK_DB_PATH"          envDefault:"desk.db"`
	KVPath          string        `env:"BANKDESK_KV_PATH"          envDefault:"desk_kv.json"`
	LockPath        string        `env:"BANKDESK_LOCK_PATH"        envDefault:"desk.lock"`
	AdminChatID     int64         `env:"BANKDESK_ADMIN_CHAT_ID"`
	AdminIDs        []int64       `env:"BANKDESK_ADMIN_IDS"`
	InstructionsTTL time.Duration `env:"BANKDESK_INSTRUCTIONS_TTL" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Token, "token", cfg.Token, "telegram bot token")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.KVPath, "kv-path", cfg.KVPath, "template and allowlist store path")
	fs.StringVar(&cfg.LockPath, "lock-path", cfg.LockPath, "process lock file path")
	fs.Int64Var(&cfg.AdminChatID, "admin-chat-id", cfg.AdminChatID, "admin fallback chat id")
	fs.DurationVar(&cfg.InstructionsTTL, "instructions-ttl", cfg.InstructionsTTL, "instruction cache lifetime, 0 disables caching")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the desk app and starts the bot loop.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDesk, func(ctx context.Context) error {
		if err := app.Run(ctx, app.Config{
			Token:           cfg.Token,
			DBPath:          cfg.DBPath,
			KVPath:          cfg.KVPath,
			LockPath:        cfg.LockPath,
			AdminChatID:     cfg.AdminChatID,
			AdminIDs:        cfg.AdminIDs,
			InstructionsTTL: cfg.InstructionsTTL,
		}); err != nil {
			return fmt.Errorf("serve desk: %w", err)
		}
		return nil
	})
}
