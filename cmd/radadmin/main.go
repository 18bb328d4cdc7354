// Точка входа radadmin — инициализация схемы FreeRADIUS и сводка по ней.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт сервисный слой и выводит в лог счётчики пользователей и групп.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arturkryukov/radadmin/internal/config"
	"github.com/arturkryukov/radadmin/internal/database"
	"github.com/arturkryukov/radadmin/internal/repository"
	"github.com/arturkryukov/radadmin/internal/service"
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
	logger.Info("radadmin запускается",
		slog.String("version", config.Version),
		slog.String("db_host", cfg.DBHost),
		slog.String("db_name", cfg.DBName),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("radadmin завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Применение миграций БД
	if cfg.Migrate {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return err
		}
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// 5. Repositories и services
	store := repository.NewStore(pool)
	stats := service.NewStatsCache(cfg.StatsCacheSize, cfg.StatsCacheTTL)
	users := service.NewUserService(store, repository.NewTxRunner(pool), stats, logger)
	groups := service.NewGroupService(store.Groups, stats, logger)

	// 6. Сводка
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	summary, err := users.CountSummary(ctx)
	if err != nil {
		return err
	}
	groupCount, err := groups.CountGroups(ctx)
	if err != nil {
		return err
	}

	logger.Info("Сводка FreeRADIUS",
		slog.Int("users_total", summary.Total),
		slog.Int("users_active", summary.Active),
		slog.Int("users_suspended", summary.Suspended),
		slog.Int("groups", groupCount),
	)
	return nil
}
