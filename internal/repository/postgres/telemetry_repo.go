package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/activtrack/telemetry/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// TelemetryRepo — хранилище доменных записей телеметрии.
// Дашборды (вне этого сервиса) читают через те же таблицы.
type TelemetryRepo struct {
	db *sql.DB
}

func NewTelemetryRepo(connString string, maxConns int) *TelemetryRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// Соединение проверяется в main через Ping
		log.Fatal(err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &TelemetryRepo{db: db}
}

// Ping проверяет доступность базы при старте.
func (r *TelemetryRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateActivity сохраняет закрытый отрезок активности и возвращает его ID.
func (r *TelemetryRepo) CreateActivity(ctx context.Context, a *domain.ActivityRecord) (int64, error) {
	query := `INSERT INTO activities
		(user_id, team_id, start_time, end_time, duration, application, website, title, category, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		a.UserID, nullableID(a.TeamID), a.StartTime, a.EndTime, a.Duration,
		a.Application, a.Website, a.Title, a.Category, a.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create activity: %w", err)
	}
	return id, nil
}

// CreateScreenshot сохраняет метаданные кадра (сам файл уже на диске).
func (r *TelemetryRepo) CreateScreenshot(ctx context.Context, s *domain.Screenshot) (int64, error) {
	query := `INSERT INTO screenshots (user_id, team_id, taken_at, display, file_path)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		s.UserID, nullableID(s.TeamID), s.Timestamp, s.Display, s.FilePath,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create screenshot: %w", err)
	}
	return id, nil
}

// CreateAlert сохраняет уведомление о нарушении политики.
func (r *TelemetryRepo) CreateAlert(ctx context.Context, a *domain.AlertNotification) (int64, error) {
	query := `INSERT INTO alerts (user_id, team_id, created_at, application, website, title, message, action_taken)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		a.UserID, nullableID(a.TeamID), a.Timestamp, a.Application,
		a.Website, a.Title, a.Message, a.ActionTaken,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create alert: %w", err)
	}
	return id, nil
}

// CreateStatus сохраняет heartbeat. Семантика latest-wins обеспечивается
// upsert-ом по user_id: новый статус замещает предыдущий.
func (r *TelemetryRepo) CreateStatus(ctx context.Context, s *domain.AgentStatus) (int64, error) {
	query := `INSERT INTO agent_statuses
		(user_id, team_id, reported_at, version, platform, is_running, is_connected,
		 last_activity_time, cpu_usage, memory_usage, disk_space_free)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			team_id = EXCLUDED.team_id,
			reported_at = EXCLUDED.reported_at,
			version = EXCLUDED.version,
			platform = EXCLUDED.platform,
			is_running = EXCLUDED.is_running,
			is_connected = EXCLUDED.is_connected,
			last_activity_time = EXCLUDED.last_activity_time,
			cpu_usage = EXCLUDED.cpu_usage,
			memory_usage = EXCLUDED.memory_usage,
			disk_space_free = EXCLUDED.disk_space_free
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		s.UserID, nullableID(s.TeamID), s.Timestamp, s.Version, s.Platform,
		s.IsRunning, s.IsConnected, s.LastActivityTime,
		s.CPUUsage, s.MemoryUsage, s.DiskSpaceFree,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert status: %w", err)
	}
	return id, nil
}

// GetAgentConfig возвращает конфигурацию по пользователю либо организации.
// Промах по обоим ключам — не ошибка: агент получает безопасные дефолты.
func (r *TelemetryRepo) GetAgentConfig(ctx context.Context, userID, orgID int64) (domain.AgentConfig, error) {
	query := `SELECT tracking_enabled, screenshots_enabled, sample_interval_seconds,
			screenshot_interval_min, idle_threshold_seconds
		FROM agent_configs
		WHERE (user_id = $1 AND $1 > 0) OR (organization_id = $2 AND $2 > 0)
		ORDER BY user_id NULLS LAST
		LIMIT 1`

	var cfg domain.AgentConfig
	err := r.db.QueryRowContext(ctx, query, userID, orgID).Scan(
		&cfg.TrackingEnabled, &cfg.ScreenshotsEnabled, &cfg.SampleIntervalSeconds,
		&cfg.ScreenshotIntervalMin, &cfg.IdleThresholdSeconds,
	)
	if err == sql.ErrNoRows {
		return domain.DefaultAgentConfig(), nil
	}
	if err != nil {
		return domain.AgentConfig{}, fmt.Errorf("postgres: get agent config: %w", err)
	}
	return cfg, nil
}

// ListRestrictedApps возвращает правила политики для команды/организации.
func (r *TelemetryRepo) ListRestrictedApps(ctx context.Context, teamID, orgID int64) ([]domain.RestrictedApp, error) {
	query := `SELECT id, name, platform, alert_threshold_minutes, close_after_alert,
			COALESCE(alert_message, ''), process_names
		FROM restricted_apps
		WHERE (team_id = $1 AND $1 > 0) OR (organization_id = $2 AND $2 > 0)
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, teamID, orgID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list restricted apps: %w", err)
	}
	defer rows.Close()

	var apps []domain.RestrictedApp
	for rows.Next() {
		var app domain.RestrictedApp
		var procNames []byte // json-массив из колонки JSONB
		if err := rows.Scan(&app.ID, &app.Name, &app.Platform, &app.AlertThresholdMinutes,
			&app.CloseAfterAlert, &app.AlertMessage, &procNames); err != nil {
			return nil, fmt.Errorf("postgres: scan restricted app: %w", err)
		}
		if err := unmarshalProcessNames(procNames, &app.ProcessNames); err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// nullableID переводит «нулевое = отсутствует» в SQL NULL.
func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}

// unmarshalProcessNames разворачивает JSONB-массив имён процессов.
// Пустое/NULL значение — валидный пустой список.
func unmarshalProcessNames(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		*dst = nil
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("postgres: process_names: %w", err)
	}
	return nil
}
