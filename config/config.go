package config

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/caarlos0/env/v11"
)

// PermsCode - Minimal guild perms for the bot to work
const PermsCode int64 = discordgo.PermissionManageRoles |
	discordgo.PermissionManageNicknames |
	discordgo.PermissionSendMessages |
	discordgo.PermissionEmbedLinks |
	discordgo.PermissionViewChannel

// Intents - Gateway intents used by the bot
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

// CustomIDPrefix - Prefix of all button custom ids owned by the bot
const CustomIDPrefix string = "link"

// Env - Process configuration, read once at start
type Env struct {
	Token       string `env:"BOT_TOKEN,required,notEmpty"`
	Prefix      string `env:"BOT_PREFIX" envDefault:"!"`
	DBPath      string `env:"DB_PATH" envDefault:"data/data.db"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9100"`

	PromptTimeout time.Duration `env:"PROMPT_TIMEOUT" envDefault:"15s"`
	RoleAttempts  uint64        `env:"ROLE_ATTEMPTS" envDefault:"3"`
	RoleRetry     time.Duration `env:"ROLE_RETRY_DELAY" envDefault:"1s"`
	RoleCooldown  time.Duration `env:"ROLE_COOLDOWN" envDefault:"2s"`
	// Second record delete after this delay, 0 disables it
	UnverifySettle time.Duration `env:"UNVERIFY_SETTLE_DELAY" envDefault:"0s"`

	RobloxTimeout time.Duration `env:"ROBLOX_TIMEOUT" envDefault:"10s"`
	// Requests per second across all Roblox APIs
	RobloxRate  float64 `env:"ROBLOX_RATE" envDefault:"5"`
	RobloxBurst int     `env:"ROBLOX_BURST" envDefault:"5"`

	LogDevelopment bool `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// LoadEnv - Parse Env from environment variables
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	if e.RoleAttempts == 0 {
		return e, fmt.Errorf("ROLE_ATTEMPTS must be at least 1")
	}
	return e, nil
}
