package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/edgegate/pkg/event"
	"github.com/nao1215/edgegate/pkg/migration"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// SQLiteSink はイベントをSQLiteに永続化するSink。
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite はデータベースを開き、マイグレーションを適用してSQLiteSinkを返す。
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// modernc sqliteは単一コネクションで書き込みを直列化する
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("PRAGMAの設定に失敗: %w", err)
	}
	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Record はSinkを実装する。
func (s *SQLiteSink) Record(ctx context.Context, e *event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traffic_events (id, request_id, event_type, client_key, method, path, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, string(e.EventType), e.ClientKey, e.Method, e.Path, string(e.Data), e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("イベントの保存に失敗: %w", err)
	}
	return nil
}

// Recent は新しい順に最大limit件のイベントを返す。
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]*event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, event_type, client_key, method, path, data, created_at
		FROM traffic_events
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*event.Event
	for rows.Next() {
		var (
			e         event.Event
			eventType string
			data      string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &eventType, &e.ClientKey, &e.Method, &e.Path, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("イベントの読み取りに失敗: %w", err)
		}
		e.EventType = event.Type(eventType)
		e.Data = []byte(data)
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("作成日時のパースに失敗: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// CountByType は種類ごとの件数を返す。
func (s *SQLiteSink) CountByType(ctx context.Context) (map[event.Type]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT event_type, COUNT(*) FROM traffic_events GROUP BY event_type")
	if err != nil {
		return nil, fmt.Errorf("集計に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[event.Type]int{}
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("集計結果の読み取りに失敗: %w", err)
		}
		counts[event.Type(t)] = n
	}
	return counts, rows.Err()
}

// Close はデータベース接続を閉じる。
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
