package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"liveview/internal/config"
	"liveview/internal/logger"
	"liveview/internal/route"
	"liveview/internal/service"
	"liveview/internal/service/ai"
	"liveview/internal/service/capture"
	"liveview/internal/service/capture/webcam"
	"liveview/internal/service/overlay"
	"liveview/internal/service/raster"
	"liveview/internal/service/scheduler"
	"liveview/internal/service/websocket"
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	hubService *websocket.HubService
	view       *websocket.View
	manager    *service.Manager
	server     *http.Server
}

func NewApp() (*App, error) {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create logger")
	}

	hub := websocket.NewHubService(log)
	view := websocket.NewView(hub, log)
	surface := raster.NewSurface()

	renderer := overlay.NewRenderer(overlay.Containers{view, surface}, overlay.Options{
		LabelMargin: cfg.LabelMargin,
		LabelInset:  cfg.LabelInset,
	})
	session := scheduler.NewSession(renderer, scheduler.Options{
		Threshold: cfg.OverlayThreshold,
		Pacer:     scheduler.NewRatePacer(cfg.FrameRate),
		Logger:    log,
	})

	loader := ai.NewLoader(cfg, log)
	mng := service.NewManager(cfg, session,
		service.ModelLoaderFunc(func(ctx context.Context) (scheduler.Detector, error) {
			return loader.Load(ctx)
		}),
		newOpener(cfg, log), view, surface, log)

	router := route.SetupRoutes(mng, view, cfg, log)

	return &App{
		config:     cfg,
		logger:     log,
		hubService: hub,
		view:       view,
		manager:    mng,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: router,
		},
	}, nil
}

func newOpener(cfg *config.Config, log *logger.Logger) capture.Opener {
	if cfg.CaptureSource == config.CaptureSourceUDP {
		return &capture.UDPOpener{Port: cfg.CaptureUDPPort, Logger: log}
	}
	return &webcam.Opener{Logger: log}
}

// Run serves until ctx is done, then shuts down: stop the loop, release capture and
// model, drain HTTP, disconnect viewers.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	// Start background services
	go a.hubService.Run(hubCtx)
	a.manager.Start()

	a.logger.Info("Live view server listening on http://localhost:%d", a.config.Port)
	a.logger.Info("Model: %s (%s), capture: %s", a.config.ModelPath, a.config.ModelFormat, a.config.CaptureSource)

	serveErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down")
	case err = <-serveErr:
		a.logger.Error("HTTP server failed: %v", err)
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), a.config.StopTimeout)
	defer cancelStop()
	err = multierr.Append(err, a.manager.Close(stopCtx))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancelShutdown()
	stopHub()
	<-a.hubService.Done()
	if shutdownErr := a.server.Shutdown(shutdownCtx); shutdownErr != nil {
		err = multierr.Append(err, errors.Wrap(shutdownErr, "shutdown http server"))
	}

	err = multierr.Append(err, a.logger.Close())
	return err
}
