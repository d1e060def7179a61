package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/robertarktes/smarthost-reservations/internal/domain"
)

// Catalog is a fixed apartment list satisfying domain.ApartmentCatalog.
type Catalog struct {
	mu         sync.RWMutex
	apartments map[int64]domain.Apartment
}

func NewCatalog(apartments ...domain.Apartment) *Catalog {
	c := &Catalog{apartments: make(map[int64]domain.Apartment)}
	for _, a := range apartments {
		c.apartments[a.ID] = a
	}
	return c
}

func (c *Catalog) GetApartment(_ context.Context, id int64) (*domain.Apartment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.apartments[id]
	if !ok {
		return nil, domain.ErrApartmentNotFound
	}
	return &a, nil
}

func (c *Catalog) ListApartments(_ context.Context, minGuests int) ([]domain.Apartment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.Apartment
	for _, a := range c.apartments {
		if a.MaxGuests >= minGuests {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
