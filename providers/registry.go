package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"backoffice/models"
)

// Delivery is one shop purchase handed to the game side. ReferenceID is the
// purchase transaction ref; fulfillers must treat it as an idempotency key.
type Delivery struct {
	UserID      string        `json:"user_id"`
	ServerID    uint          `json:"server_id"`
	ItemRef     string        `json:"item_ref"`
	Kind        string        `json:"kind"`
	Reward      models.Reward `json:"reward"`
	ReferenceID string        `json:"reference_id"`
}

type Fulfiller interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Registry routes a delivery to the fulfiller registered for its item kind.
type Registry struct {
	mu         sync.RWMutex
	fulfillers map[string]Fulfiller
}

func NewRegistry() *Registry {
	return &Registry{fulfillers: map[string]Fulfiller{}}
}

func (r *Registry) Register(kind string, f Fulfiller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fulfillers[strings.ToLower(kind)] = f
}

func (r *Registry) Get(kind string) Fulfiller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fulfillers[strings.ToLower(kind)]
}

func (r *Registry) Deliver(ctx context.Context, d Delivery) error {
	f := r.Get(d.Kind)
	if f == nil {
		return fmt.Errorf("no fulfiller registered for kind %q", d.Kind)
	}
	return f.Deliver(ctx, d)
}
