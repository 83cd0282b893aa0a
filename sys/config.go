package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// Environment Variables
	EnvDiscordToken   = "DISCORD_TOKEN"
	EnvGuildID        = "GUILD_ID"
	EnvOwnerIDs       = "OWNER_IDS"
	EnvSilent         = "SILENT"
	EnvQueueLimit     = "QUEUE_LIMIT"
	EnvPrebufferLimit = "PREBUFFER_LIMIT"
	EnvDefaultVolume  = "DEFAULT_VOLUME"
	EnvYtdlpProxy     = "YTDLP_PROXY"

	MsgConfigMissingToken   = "missing DISCORD_TOKEN"
	MsgConfigInvalidGuildID = "invalid GUILD_ID: must be a valid Snowflake"
)

type Config struct {
	Token          string
	GuildID        string
	DatabasePath   string
	OwnerIDs       []string
	Silent         bool
	QueueLimit     int
	PrebufferLimit int
	DefaultVolume  int // percent, 0-100
	YtdlpProxy     string
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv(EnvDiscordToken)
	dbPath := filepath.Join(".", GetProjectName()+".db")

	silent, _ := strconv.ParseBool(os.Getenv(EnvSilent))

	ownerIDsStr := os.Getenv(EnvOwnerIDs)
	var ownerIDs []string
	if ownerIDsStr != "" {
		ownerIDs = strings.Split(ownerIDsStr, ",")
		for i := range ownerIDs {
			ownerIDs[i] = strings.TrimSpace(ownerIDs[i])
		}
	}

	cfg := &Config{
		Token:        token,
		GuildID:      os.Getenv(EnvGuildID),
		DatabasePath: dbPath,
		OwnerIDs:     ownerIDs,
		Silent:       silent,
		YtdlpProxy:   os.Getenv(EnvYtdlpProxy),
	}

	cfg.QueueLimit, _ = strconv.Atoi(os.Getenv(EnvQueueLimit))
	if cfg.QueueLimit == 0 {
		cfg.QueueLimit = 500
	}
	cfg.PrebufferLimit, _ = strconv.Atoi(os.Getenv(EnvPrebufferLimit))
	if cfg.PrebufferLimit == 0 {
		cfg.PrebufferLimit = 50
	}
	cfg.DefaultVolume, _ = strconv.Atoi(os.Getenv(EnvDefaultVolume))
	if cfg.DefaultVolume == 0 {
		cfg.DefaultVolume = 100
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf(MsgConfigInvalidGuildID)
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 100 {
		return fmt.Errorf("invalid DEFAULT_VOLUME: must be 0-100")
	}
	return nil
}

// IsOwner reports whether the given user ID is in OWNER_IDS.
func (c *Config) IsOwner(userID string) bool {
	for _, id := range c.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "bot"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
