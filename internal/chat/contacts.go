package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/cuongbtq/media-pipeline/internal/delivery"
)

// ErrContactNotFound is returned for senders the directory has not seen
var ErrContactNotFound = errors.New("contact not found")

// Directory remembers display names seen on inbound requests. The adapter
// bridge is publish-only, so names are learned rather than queried.
type Directory struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewDirectory creates an empty contact directory
func NewDirectory() *Directory {
	return &Directory{names: make(map[string]string)}
}

// Remember records the latest display name for id. Empty values are ignored.
func (d *Directory) Remember(id, name string) {
	if id == "" || name == "" {
		return
	}
	d.mu.Lock()
	d.names[id] = name
	d.mu.Unlock()
}

// GetContact returns the contact known under id
func (d *Directory) GetContact(_ context.Context, id string) (delivery.Contact, error) {
	d.mu.RLock()
	name, ok := d.names[id]
	d.mu.RUnlock()
	if !ok {
		return delivery.Contact{}, ErrContactNotFound
	}
	return delivery.Contact{ID: id, Name: name}, nil
}
