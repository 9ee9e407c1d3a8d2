package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"quotehub/internal/domain/model"
)

// ModeListener is told about a mode change after it has been applied.
type ModeListener func(ctx context.Context, from, to model.DataMode) error

// ModeService holds the current data mode (live/test).
type ModeService struct {
	currentMode model.DataMode
	listeners   []ModeListener
	mu          sync.RWMutex
	logger      *slog.Logger
}

func NewModeService(logger *slog.Logger) *ModeService {
	return &ModeService{
		currentMode: model.LiveMode,
		logger:      logger,
	}
}

// OnChange registers l. Listeners run in registration order under the switch lock.
func (s *ModeService) OnChange(l ModeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// SwitchMode applies mode and runs the listeners. A failing listener rolls the mode back.
func (s *ModeService) SwitchMode(ctx context.Context, mode model.DataMode) error {
	if mode != model.LiveMode && mode != model.TestMode {
		return fmt.Errorf("unknown data mode %d", mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentMode == mode {
		return nil
	}

	old := s.currentMode
	s.currentMode = mode
	for _, l := range s.listeners {
		if err := l(ctx, old, mode); err != nil {
			s.currentMode = old
			s.logger.Error("mode_service: switch rolled back", "from", old, "to", mode, "error", err)
			return fmt.Errorf("switch to %s mode: %w", mode, err)
		}
	}

	s.logger.Info("mode_service: mode updated", "old", old, "new", mode)
	return nil
}

func (s *ModeService) GetCurrentMode() model.DataMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentMode
}
