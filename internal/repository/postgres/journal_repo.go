package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/activtrack/telemetry/internal/journal"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// JournalRepo пишет журнал входящих событий пакетными вставками.
type JournalRepo struct {
	db *sql.DB
}

func NewJournalRepo(connString string, maxConns int) *JournalRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		log.Fatal(err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &JournalRepo{db: db}
}

// WriteBatch сохраняет пачку записей за один INSERT.
func (r *JournalRepo) WriteBatch(ctx context.Context, entries []journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице ingest_journal
	numFields := 6
	placeholderStr := ""
	vals := make([]interface{}, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6)

		payload := e.Payload
		if !json.Valid(payload) {
			payload, _ = json.Marshal(string(e.Payload))
		}

		vals = append(vals, e.ID, e.ConnID, e.UserID, e.Event, payload, e.ReceivedAt)
	}

	query := fmt.Sprintf(
		"INSERT INTO ingest_journal (id, conn_id, user_id, event, payload, received_at) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: journal batch insert: %w", err)
	}
	return nil
}
