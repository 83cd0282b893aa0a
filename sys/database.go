package sys

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/mattn/go-sqlite3"
)

const (
	MsgDatabasePragmaError = "failed to apply pragma %q: %w"
	MsgDatabaseTableError  = "failed to create table: %w"
	MsgDBMigrationFail     = "failed to migrate database: %w"
	MsgDatabaseInitSuccess = "Database initialized successfully"
)

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	_ = sqlite3.SQLiteDriver{}

	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id TEXT PRIMARY KEY,
			volume INTEGER NOT NULL DEFAULT 100,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS track_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			title TEXT NOT NULL,
			artist TEXT,
			address TEXT NOT NULL,
			platform TEXT NOT NULL,
			requested_by TEXT,
			played_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_track_history_guild_id ON track_history(guild_id)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	migrations := []string{
		"ALTER TABLE track_history ADD COLUMN requested_by TEXT",
	}

	for _, m := range migrations {
		if _, err := DB.ExecContext(initCtx, m); err != nil {
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf(MsgDBMigrationFail, err)
			}
		}
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// GetGuildVolume returns the persisted volume percent for a guild, if any.
func GetGuildVolume(ctx context.Context, guildID snowflake.ID) (int, bool) {
	if DB == nil {
		return 0, false
	}
	var volume int
	err := DB.QueryRowContext(ctx, "SELECT volume FROM guild_settings WHERE guild_id = ?", guildID.String()).Scan(&volume)
	if err != nil {
		return 0, false
	}
	if volume < 0 {
		volume = 0
	} else if volume > 100 {
		volume = 100
	}
	return volume, true
}

func SetGuildVolume(ctx context.Context, guildID snowflake.ID, volume int) error {
	if DB == nil {
		return nil
	}
	_, err := DB.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, volume) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET volume = excluded.volume, updated_at = CURRENT_TIMESTAMP
	`, guildID.String(), volume)
	return err
}

// HistoryEntry is a previously played track, newest first.
type HistoryEntry struct {
	Title    string
	Artist   string
	Address  string
	Platform string
	PlayedAt time.Time
}

func AddTrackHistory(ctx context.Context, guildID snowflake.ID, title, artist, address, platform string, requestedBy snowflake.ID) error {
	if DB == nil {
		return nil
	}
	_, err := DB.ExecContext(ctx, `
		INSERT INTO track_history (guild_id, title, artist, address, platform, requested_by)
		VALUES (?, ?, ?, ?, ?, ?)
	`, guildID.String(), title, artist, address, platform, requestedBy.String())
	return err
}

// RecentTracks returns the most recent distinct plays for a guild.
func RecentTracks(ctx context.Context, guildID snowflake.ID, limit int) ([]HistoryEntry, error) {
	if DB == nil {
		return nil, nil
	}
	rows, err := DB.QueryContext(ctx, `
		SELECT title, COALESCE(artist, ''), address, platform, MAX(played_at)
		FROM track_history
		WHERE guild_id = ?
		GROUP BY address
		ORDER BY MAX(played_at) DESC
		LIMIT ?
	`, guildID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var playedAt string
		if err := rows.Scan(&e.Title, &e.Artist, &e.Address, &e.Platform, &playedAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, playedAt); err == nil {
			e.PlayedAt = t
		} else if t, err := time.Parse("2006-01-02 15:04:05", playedAt); err == nil {
			e.PlayedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
