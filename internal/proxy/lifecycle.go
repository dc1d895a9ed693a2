package proxy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/cache"
	"github.com/chordbook/chordsync/internal/cachectl"
)

// Phase is the proxy's install/activate state.
type Phase string

const (
	PhaseInstalling Phase = "installing"
	PhaseInstalled  Phase = "installed" // waiting to activate
	PhaseActivating Phase = "activating"
	PhaseActive     Phase = "active"
)

// Phase returns the current phase.
func (s *Server) Phase() Phase {
	return s.phase.Load().(Phase)
}

// StaticGeneration is the current static generation name.
func (s *Server) StaticGeneration() string {
	return cache.StaticGeneration(s.config.Version)
}

// DynamicGeneration is the current dynamic generation name.
func (s *Server) DynamicGeneration() string {
	return cache.DynamicGeneration(s.config.Version)
}

// Install opens the dynamic generation and precaches every static asset
// into the current static generation. Any asset failure fails the install.
func (s *Server) Install(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Phase() != PhaseActive {
		s.phase.Store(PhaseInstalling)
	}
	// Runtime caching works even when precaching fails.
	if err := s.config.Backend.Open(ctx, s.DynamicGeneration()); err != nil {
		return fmt.Errorf("failed to open %s: %w", s.DynamicGeneration(), err)
	}
	if err := s.precache(ctx); err != nil {
		return err
	}

	if s.Phase() == PhaseInstalling {
		s.phase.Store(PhaseInstalled)
	}
	s.logger.Info("installed", zap.String("version", s.config.Version), zap.Int("assets", len(s.config.StaticAssets)))
	return nil
}

func (s *Server) precache(ctx context.Context) error {
	gen := s.StaticGeneration()
	if err := s.config.Backend.Open(ctx, gen); err != nil {
		return fmt.Errorf("failed to open %s: %w", gen, err)
	}
	for _, asset := range s.config.StaticAssets {
		if err := cache.Add(ctx, s.config.Backend, s.config.HTTPClient, s.config.Origin, gen, asset); err != nil {
			return fmt.Errorf("precache failed: %w", err)
		}
	}
	return nil
}

// Activate deletes every owned generation that is not current and then
// claims connected pages.
func (s *Server) Activate(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Phase() == PhaseActive {
		return nil
	}
	s.phase.Store(PhaseActivating)

	names, err := s.config.Backend.Keys(ctx)
	if err != nil {
		s.phase.Store(PhaseInstalled)
		return fmt.Errorf("failed to list generations: %w", err)
	}
	current := map[string]bool{s.StaticGeneration(): true, s.DynamicGeneration(): true}
	for _, name := range names {
		if !cache.IsOwned(name) || current[name] {
			continue
		}
		if _, err := s.config.Backend.Delete(ctx, name); err != nil {
			s.phase.Store(PhaseInstalled)
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
		s.logger.Info("deleted old generation", zap.String("generation", name))
	}

	s.phase.Store(PhaseActive)
	s.Broadcast(cachectl.Message{Type: cachectl.TypeProxyActivated})
	s.logger.Info("activated", zap.String("version", s.config.Version))
	return nil
}
