package actors

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/congo-pay/streampay/internal/model"
)

type memoryRepository struct {
	mu     sync.RWMutex
	actors map[string]model.Actor
}

// NewMemoryRepository builds an in-memory actor store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{actors: make(map[string]model.Actor)}
}

func (r *memoryRepository) Create(_ context.Context, actor model.Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actors[actor.ID]; exists {
		return errors.New("actor exists")
	}
	r.actors[actor.ID] = actor
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (model.Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actor, ok := r.actors[id]
	if !ok {
		return model.Actor{}, ErrNotFound
	}
	return actor, nil
}

func (r *memoryRepository) ListByAccount(_ context.Context, accountID string) ([]model.Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Actor
	for _, actor := range r.actors {
		if actor.AccountID == accountID {
			out = append(out, actor)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
