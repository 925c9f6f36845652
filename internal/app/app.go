package app

import (
	"fmt"
	"io"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/handlers"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/services/browser"
	"github.com/ternarybob/formrunner/internal/services/control"
	"github.com/ternarybob/formrunner/internal/services/dispatcher"
	"github.com/ternarybob/formrunner/internal/services/events"
	"github.com/ternarybob/formrunner/internal/services/formfill"
	"github.com/ternarybob/formrunner/internal/services/forms"
	"github.com/ternarybob/formrunner/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Form filling
	FormService      *forms.Service
	BrowserPool      *browser.Pool
	LocationResolver *formfill.LocationResolver
	Orchestrator     *formfill.Orchestrator

	// Command loop
	Registry     *control.Registry
	EventService *events.Service
	Dispatcher   *dispatcher.Dispatcher

	// HTTP handlers
	WSHandler     *handlers.WebSocketHandler
	StatusHandler *handlers.StatusHandler
}

// New wires the application. Events are written to eventOut as JSON lines.
func New(cfg *common.Config, logger arbor.ILogger, eventOut io.Writer) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initEvents(eventOut); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize events: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Int("forms", len(app.FormService.Names())).
		Bool("server", cfg.Server.Enabled).
		Msg("Application initialized")

	return app, nil
}

func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initEvents builds the publisher chain: stdout stream first, then WebSocket
// clients, then the log mirror
func (a *App) initEvents(eventOut io.Writer) error {
	a.EventService = events.NewService(a.Logger)

	if err := a.EventService.Subscribe("stream", events.NewStreamWriter(eventOut).Handler()); err != nil {
		return err
	}

	a.WSHandler = handlers.NewWebSocketHandler(a.Logger, &a.Config.WebSocket)
	if a.Config.Server.Enabled {
		if err := a.EventService.Subscribe("websocket", a.WSHandler.Publish); err != nil {
			return err
		}
	}

	return a.EventService.Subscribe("logger", events.NewLoggerSubscriber(a.Logger))
}

func (a *App) initServices() error {
	a.FormService = forms.NewService(a.Logger)
	loaded, err := a.FormService.LoadFromDir(a.Config.Forms.DefinitionsDir)
	if err != nil {
		return fmt.Errorf("failed to load form definitions: %w", err)
	}
	if loaded == 0 {
		a.Logger.Warn().
			Str("dir", a.Config.Forms.DefinitionsDir).
			Msg("No form definitions loaded - start-batch commands will fail")
	}

	a.BrowserPool = browser.NewPool(a.Config.Browser, a.Logger)
	a.LocationResolver = formfill.NewLocationResolver(a.Config.Browser, a.Logger)
	a.Orchestrator = formfill.NewOrchestrator(
		a.StorageManager.RecordStorage(),
		a.BrowserPool,
		a.EventService,
		a.LocationResolver,
		a.Config,
		a.Logger,
	)

	a.Registry = control.NewRegistry(a.Logger)
	a.Dispatcher = dispatcher.NewDispatcher(
		a.Registry,
		a.Orchestrator,
		a.FormService,
		a.BrowserPool,
		a.EventService,
		a.Config,
		a.Logger,
	)

	return nil
}

func (a *App) initHandlers() {
	a.WSHandler.SetCommandSink(a.Dispatcher.Submit)
	a.StatusHandler = handlers.NewStatusHandler(a.Dispatcher, a.FormService, a.WSHandler, a.Logger)
}

// Close releases the browser and the database
func (a *App) Close() error {
	if a.BrowserPool != nil {
		if err := a.BrowserPool.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close browser pool")
		}
	}

	if a.EventService != nil {
		a.EventService.Close()
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
