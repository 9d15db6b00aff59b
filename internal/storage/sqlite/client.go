package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turn_history (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		user_id TEXT,
		model TEXT NOT NULL,
		query_text TEXT NOT NULL,
		response TEXT,
		finish_reason TEXT NOT NULL,
		prompt_tokens INTEGER DEFAULT 0,
		completion_tokens INTEGER DEFAULT 0,
		depth_reached INTEGER DEFAULT 0,
		search_used INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turn_user ON turn_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_turn_chat ON turn_history(chat_id);
	CREATE INDEX IF NOT EXISTS idx_turn_created ON turn_history(created_at);

	CREATE TABLE IF NOT EXISTS turn_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT,
		relevance REAL,
		composite_score REAL,
		depth_level INTEGER,
		FOREIGN KEY (turn_id) REFERENCES turn_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_turn ON turn_sources(turn_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertTurn records a turn and its sources in one transaction.
func (c *Client) InsertTurn(ctx context.Context, record *models.TurnRecord) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO turn_history (id, chat_id, user_id, model, query_text, response, finish_reason,
			prompt_tokens, completion_tokens, depth_reached, search_used, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	searchUsed := 0
	if record.SearchUsed {
		searchUsed = 1
	}

	_, err = tx.ExecContext(ctx,
		query,
		record.ID,
		record.ChatID,
		record.UserID,
		record.Model,
		record.QueryText,
		record.Response,
		record.FinishReason,
		record.PromptTokens,
		record.CompletionTokens,
		record.DepthReached,
		searchUsed,
		record.LatencyMS,
		record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn record: %w", err)
	}

	for _, s := range record.Sources {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO turn_sources (turn_id, url, title, relevance, composite_score, depth_level) VALUES (?, ?, ?, ?, ?, ?)`,
			record.ID,
			s.URL,
			s.Title,
			s.Relevance,
			s.CompositeScore,
			s.DepthLevel,
		)
		if err != nil {
			return fmt.Errorf("failed to insert turn source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}

	logger.Info("Turn recorded",
		zap.String("turn_id", record.ID),
		zap.String("chat_id", record.ChatID),
		zap.Int("sources", len(record.Sources)),
	)

	return nil
}

func (c *Client) GetTurnHistory(ctx context.Context, userID string, limit int) ([]models.TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, chat_id, user_id, model, query_text, response, finish_reason,
			prompt_tokens, completion_tokens, depth_reached, search_used, latency_ms, created_at
		FROM turn_history
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get turn history: %w", err)
	}
	defer rows.Close()

	records := []models.TurnRecord{}
	for rows.Next() {
		var r models.TurnRecord
		var createdAt int64
		var searchUsed int

		err := rows.Scan(
			&r.ID,
			&r.ChatID,
			&r.UserID,
			&r.Model,
			&r.QueryText,
			&r.Response,
			&r.FinishReason,
			&r.PromptTokens,
			&r.CompletionTokens,
			&r.DepthReached,
			&searchUsed,
			&r.LatencyMS,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.SearchUsed = searchUsed == 1
		r.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turn history: %w", err)
	}

	for i := range records {
		sources, err := c.getTurnSources(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Sources = sources
	}

	return records, nil
}

func (c *Client) getTurnSources(ctx context.Context, turnID string) ([]models.TurnSource, error) {
	query := `
		SELECT id, turn_id, url, title, relevance, composite_score, depth_level
		FROM turn_sources
		WHERE turn_id = ?
		ORDER BY composite_score DESC, id ASC
	`

	rows, err := c.db.QueryContext(ctx, query, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to get turn sources: %w", err)
	}
	defer rows.Close()

	var sources []models.TurnSource
	for rows.Next() {
		var s models.TurnSource
		if err := rows.Scan(&s.ID, &s.TurnID, &s.URL, &s.Title, &s.Relevance, &s.CompositeScore, &s.DepthLevel); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sources = append(sources, s)
	}

	return sources, rows.Err()
}
