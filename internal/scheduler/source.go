package scheduler

import (
	"context"
	"fmt"

	"github.com/quantarena/arena/internal/storage"
)

// StorageSource adapts the persistence layer to the dispatcher's view of
// running sessions.
type StorageSource struct {
	store storage.Storage
}

func NewStorageSource(store storage.Storage) *StorageSource {
	return &StorageSource{store: store}
}

func (s *StorageSource) RunningSessions(ctx context.Context) ([]SessionInfo, error) {
	sessions, err := s.store.ListRunningSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list running sessions: %w", err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		info := SessionInfo{
			ID:             sess.ID,
			Mode:           sess.Mode,
			CadenceSeconds: sess.EffectiveCadence(),
			StartedAt:      sess.StartedAt,
		}
		if sess.LastTickAt != nil {
			info.LastTickAt = *sess.LastTickAt
		}
		infos = append(infos, info)
	}
	return infos, nil
}
