package audio

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

// PlaybackManager owns every audio output it starts and guarantees at most
// one of them is playing.
type PlaybackManager struct {
	player repositories.AudioPlayer
	logger *zap.Logger

	// playMu serialises stop-then-start so two callers cannot both start.
	playMu sync.Mutex

	mu     sync.Mutex
	active map[uint64]repositories.Playback
	nextID uint64
}

// NewPlaybackManager creates a manager around player.
func NewPlaybackManager(player repositories.AudioPlayer, logger *zap.Logger) *PlaybackManager {
	return &PlaybackManager{
		player: player,
		logger: logger,
		active: make(map[uint64]repositories.Playback),
	}
}

// Play stops every tracked output and then starts clip.
func (m *PlaybackManager) Play(ctx context.Context, clip entities.AudioClip) (repositories.Playback, error) {
	m.playMu.Lock()
	defer m.playMu.Unlock()

	if stopped := m.StopAll(); stopped > 0 {
		m.logger.Debug("Stopped previous playback before starting new one", zap.Int("stopped", stopped))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	playback, err := m.player.Play(ctx, clip)
	if err != nil {
		return nil, fmt.Errorf("failed to start playback: %w", err)
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.active[id] = playback
	m.mu.Unlock()

	go func() {
		<-playback.Done()
		m.mu.Lock()
		delete(m.active, id)
		m.mu.Unlock()
	}()

	return playback, nil
}

// StopAll stops every tracked output and waits for each to finish. It
// returns how many were stopped.
func (m *PlaybackManager) StopAll() int {
	m.mu.Lock()
	playbacks := make([]repositories.Playback, 0, len(m.active))
	for id, p := range m.active {
		playbacks = append(playbacks, p)
		delete(m.active, id)
	}
	m.mu.Unlock()

	for _, p := range playbacks {
		p.Stop()
		<-p.Done()
	}
	return len(playbacks)
}

// Active returns the number of outputs still playing.
func (m *PlaybackManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
