// Точка входа демонстрационного сервиса заметок.
// Загружает конфигурацию, применяет миграции, создаёт пул соединений,
// менеджер транзакций и адаптер ресурса, запускает HTTP-сервер
// с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mperativ/fondat-postgresql/internal/demo/config"
	"github.com/mperativ/fondat-postgresql/internal/demo/database"
	"github.com/mperativ/fondat-postgresql/internal/demo/handlers"
	"github.com/mperativ/fondat-postgresql/internal/demo/model"
	"github.com/mperativ/fondat-postgresql/internal/demo/server"
	"github.com/mperativ/fondat-postgresql/pool"
	"github.com/mperativ/fondat-postgresql/resource"
	"github.com/mperativ/fondat-postgresql/tx"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Сервис заметок запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Пул соединений
	ctx := context.Background()
	p, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer p.Close()

	// 4.1 Метрики пула
	prometheus.MustRegister(pool.NewStatsCollector(p, "main"))

	// 5. Менеджер транзакций
	mgr := tx.NewManager(p, tx.ManagerConfig{
		ExecTimeout: cfg.ExecTimeout,
		Logger:      logger,
	})

	// 6. Адаптер ресурса заметок
	notesTable, err := model.NotesTable()
	if err != nil {
		logger.Error("Ошибка дескриптора таблицы notes", slog.String("error", err.Error()))
		os.Exit(1)
	}
	notesAdapter, err := resource.New[model.Note](mgr, notesTable, logger)
	if err != nil {
		logger.Error("Ошибка создания адаптера заметок", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Handlers
	notesHandler := handlers.NewNotesHandler(notesAdapter, logger)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.ReadinessChecker{
		"postgresql": database.NewReadinessChecker(p),
	})

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, notesHandler, healthHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Сервис заметок остановлен")
}
