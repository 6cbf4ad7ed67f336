package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/domain"
)

// Catalog is an in-process stand-in for the catalog service.
type Catalog struct {
	mu         sync.RWMutex
	departures map[uuid.UUID]domain.Departure
	resources  map[uuid.UUID]domain.Resource
}

func NewCatalog() *Catalog {
	return &Catalog{
		departures: make(map[uuid.UUID]domain.Departure),
		resources:  make(map[uuid.UUID]domain.Resource),
	}
}

func (c *Catalog) PutDeparture(d domain.Departure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.departures[d.ID]; ok && d.Version <= prev.Version {
		d.Version = prev.Version + 1
	}
	c.departures[d.ID] = d
}

func (c *Catalog) PutResource(r domain.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[r.ID] = r
}

func (c *Catalog) GetDeparture(_ context.Context, id uuid.UUID) (domain.Departure, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.departures[id]
	if !ok {
		return domain.Departure{}, domain.ErrDepartureNotFound
	}
	return d, nil
}

func (c *Catalog) GetResource(_ context.Context, id uuid.UUID) (domain.Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.resources[id]
	if !ok {
		return domain.Resource{}, domain.ErrResourceNotFound
	}
	return r, nil
}
