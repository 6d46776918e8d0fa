// Пакет database — подключение к PostgreSQL через пул fondat-postgresql,
// применение миграций (golang-migrate) и проверка готовности.
package database

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/mperativ/fondat-postgresql/internal/demo/config"
	"github.com/mperativ/fondat-postgresql/pool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect создаёт пул соединений с PostgreSQL.
// Выполняет пробный захват для проверки доступности.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pool.Pool, error) {
	p, err := pool.New(pool.Config{
		ConnString:     cfg.DatabaseDSN(),
		MinConns:       int32(cfg.PoolMinConns),
		MaxConns:       int32(cfg.PoolMaxConns),
		AcquireTimeout: cfg.AcquireTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	// Проверяем подключение
	lease, err := p.Acquire(ctx)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}
	lease.Release()

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
	)

	return p, nil
}

// Migrate применяет SQL-миграции из embedded FS к базе данных.
// Использует golang-migrate с драйвером pgx5.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	dbURL := fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode,
	)

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// ReadinessChecker — проверка готовности PostgreSQL для health endpoint.
type ReadinessChecker struct {
	pool *pool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(p *pool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: p}
}

// CheckReady выполняет пробный захват соединения из пула.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	lease, err := c.pool.Acquire(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	lease.Release()
	return "ok", "подключение активно"
}
