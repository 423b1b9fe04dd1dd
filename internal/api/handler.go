package api

import (
	"log/slog"

	"github.com/shaiso/slurmdag/internal/config"
	"github.com/shaiso/slurmdag/internal/orchestrator"
)

// SnapshotSource — источник состояния запуска.
type SnapshotSource interface {
	Snapshot() orchestrator.Snapshot
}

// ParamsStore — runtime файл, который перечитывает контроллер.
type ParamsStore interface {
	Update(base config.Params, fn func(*config.Params)) (config.Params, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	source SnapshotSource
	params ParamsStore
	logger *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Source SnapshotSource
	Params ParamsStore // nil — изменения параметров недоступны
	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		source: cfg.Source,
		params: cfg.Params,
		logger: logger,
	}
}
