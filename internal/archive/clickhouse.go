package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/SteelMorgan/mc-bridge/internal/retry"
	"github.com/rs/zerolog/log"
)

const createTable = `CREATE TABLE IF NOT EXISTS chat_events (
	received_at DateTime64(3),
	log_time    String,
	source      LowCardinality(String),
	username    String,
	text        String,
	fingerprint FixedString(64)
) ENGINE = ReplacingMergeTree
ORDER BY (source, received_at, fingerprint)`

// Config holds chat archive connection settings
type Config struct {
	Host     string
	Port     int
	Database string
	// Source tags every row, usually the remote log path
	Source string
}

// Row is one archived chat event
type Row struct {
	ReceivedAt  time.Time
	LogTime     string
	Source      string
	Username    string
	Text        string
	Fingerprint string
}

// Archive appends relayed chat events to ClickHouse
type Archive struct {
	conn     clickhouse.Conn
	source   string
	retryCfg retry.Config
}

// Open connects, pings with retry and creates the chat_events table
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: "default",
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	// 999 connection lost, 159 timeout exceeded, 210 network error
	retryCfg := retry.DefaultConfig().WithPatterns("code: 999", "code: 159", "code: 210")
	if err := retry.Do(ctx, retryCfg, func() error {
		return conn.Ping(ctx)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	if err := conn.Exec(ctx, createTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create chat_events table: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("Connected to ClickHouse chat archive")

	return &Archive{conn: conn, source: cfg.Source, retryCfg: retryCfg}, nil
}

// Archive writes events in one batch
func (a *Archive) Archive(ctx context.Context, events []domain.ChatEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := Rows(events, a.source, time.Now())

	// Rows replace each other on fingerprint, so a resent batch is harmless
	err := retry.Do(ctx, a.retryCfg, func() error {
		return a.send(ctx, rows)
	})
	if err != nil {
		return err
	}

	log.Debug().Int("rows", len(rows)).Msg("Chat events archived")
	return nil
}

func (a *Archive) send(ctx context.Context, rows []Row) error {
	batch, err := a.conn.PrepareBatch(ctx, "INSERT INTO chat_events")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(r.ReceivedAt, r.LogTime, r.Source, r.Username, r.Text, r.Fingerprint); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close closes the connection
func (a *Archive) Close() error {
	log.Info().Msg("Closing ClickHouse connection")
	return a.conn.Close()
}

// Rows converts events to archive rows stamped with receivedAt
func Rows(events []domain.ChatEvent, source string, receivedAt time.Time) []Row {
	rows := make([]Row, 0, len(events))
	for _, e := range events {
		rows = append(rows, Row{
			ReceivedAt:  receivedAt.UTC(),
			LogTime:     e.Timestamp,
			Source:      source,
			Username:    e.Username,
			Text:        e.Text,
			Fingerprint: e.Fingerprint(),
		})
	}
	return rows
}
