package cli

import (
	"fmt"

	"github.com/togglr-project/togglr-sub001/internal/config"
	"github.com/togglr-project/togglr-sub001/internal/logger"
	"github.com/togglr-project/togglr-sub001/service"
	"github.com/togglr-project/togglr-sub001/storage"
	"github.com/togglr-project/togglr-sub001/storage/badger"
	"github.com/togglr-project/togglr-sub001/storage/sqlite"
	"github.com/togglr-project/togglr-sub001/timeline"
)

// environment carries what commands share: the config location and,
// once opened, the configured stack
type environment struct {
	configFile string
}

// stack is the configured storage with the components built on it
type stack struct {
	config  *config.Config
	log     *logger.Logger
	store   storage.Storage
	service *service.Service
}

func (e *environment) open() (*stack, error) {
	cfg, err := config.Load(e.configFile)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := openStorage(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	svc := service.New(store, timeline.NewEvaluator(cfg.EvaluatorConfig()), service.WithLogger(log))
	return &stack{config: cfg, log: log, store: store, service: svc}, nil
}

func (s *stack) Close() error {
	s.log.Sync()
	return s.store.Close()
}

func openStorage(cfg config.StorageConfig, log *logger.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.NewSQLiteStorage(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return store, nil
	case config.DriverBadger:
		store, err := badger.NewBadgerStorage(cfg.Path, badger.WithLogger(log.Badger()))
		if err != nil {
			return nil, fmt.Errorf("failed to open badger storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
