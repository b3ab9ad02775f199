package app

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"

	"github.com/zjregee/deepthread/internal/config"
	"github.com/zjregee/deepthread/internal/service"
	"github.com/zjregee/deepthread/internal/service/storage"
)

// newChatModel is swapped out in tests.
var newChatModel func(ctx context.Context, cfg config.ModelConfig) (model.ToolCallingChatModel, error) = service.NewChatModel

// App is one CLI invocation's view of deepthread: the database, the service
// on top of it and the logger.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	db           *storage.DB
	agentService *service.AgentService
}

// newApp opens the database and builds the service. The chat model is only
// built when withModel is set, so read-only commands work without API keys.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, withModel bool) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	var chatModel model.ToolCallingChatModel
	if withModel {
		chatModel, err = newChatModel(ctx, cfg.Model)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize %s model: %w", cfg.Model.Provider, err)
		}
	}

	agentService, err := service.NewAgentService(ctx, service.Options{
		Config: cfg,
		DB:     db,
		Model:  chatModel,
		Logger: logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize agent service: %w", err)
	}

	return &App{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		agentService: agentService,
	}, nil
}

// Close waits for running turns and closes the database.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	a.agentService.Close()
	return a.db.Close()
}
