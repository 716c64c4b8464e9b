package ai

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"liveview/internal/config"
	"liveview/internal/dto"
	"liveview/internal/logger"
)

// Model is a loaded detection network.
type Model interface {
	Detect(ctx context.Context, frame dto.Frame) ([]dto.Detection, error)
	io.Closer
}

// Loader builds the network selected by the configuration.
type Loader struct {
	config *config.Config
	logger *logger.Logger
	open   func() (Model, error)
}

// NewLoader creates a loader for cfg.ModelFormat.
func NewLoader(cfg *config.Config, logger *logger.Logger) *Loader {
	l := &Loader{config: cfg, logger: logger}
	l.open = l.openConfigured
	return l
}

// Load reads the network from disk. Reading is not interruptible: when ctx ends first
// Load returns the context error and the network is closed once it finishes loading.
func (l *Loader) Load(ctx context.Context) (Model, error) {
	type result struct {
		model Model
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := l.open()
		ch <- result{m, err}
	}()

	select {
	case r := <-ch:
		return r.model, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				r.model.Close()
			}
		}()
		return nil, errors.Wrap(ctx.Err(), "load model")
	}
}

func (l *Loader) openConfigured() (Model, error) {
	switch l.config.ModelFormat {
	case config.ModelFormatYOLO:
		return NewYOLO(YOLOConfig{
			ModelPath:     l.config.ModelPath,
			MinConfidence: l.config.MinConfidence,
			NMSThreshold:  l.config.YOLONMSThreshold,
			InputSize:     l.config.YOLOInputSize,
		}, l.logger)
	case config.ModelFormatSSD:
		return NewSSD(l.config.ModelPath, l.config.ConfigPath, l.config.MinConfidence, l.logger)
	default:
		return nil, errors.Errorf("unknown model format %q", l.config.ModelFormat)
	}
}
