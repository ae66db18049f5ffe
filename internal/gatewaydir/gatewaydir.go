// Package gatewaydir resolves gateway_id to a reachable gateway_url
// from a static JSON directory file (§6.1 GET /v1/gateways/resolve).
// There is no federation RPC in this gateway (see SPEC_FULL.md's
// Non-goals); the directory exists only so a client holding a
// conversation's home_gateway id can find where to dial it.
package gatewaydir

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/convgateway/core/internal/gatewayerr"
)

// Directory is an in-memory view of the gateway directory file, read
// once by Load.
type Directory struct {
	mu   sync.RWMutex
	path string
	byID map[string]string
}

// Load reads path once at startup; a missing file yields an empty,
// self-only directory rather than an error.
func Load(path string) (*Directory, error) {
	d := &Directory{path: path, byID: make(map[string]string)}
	if path == "" {
		return d, nil
	}
	if err := d.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return d, nil
}

func (d *Directory) reload() error {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return err
	}
	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	d.mu.Lock()
	d.byID = entries
	d.mu.Unlock()
	return nil
}

// Resolve returns gatewayID's URL, or a not_found error.
func (d *Directory) Resolve(gatewayID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	url, ok := d.byID[gatewayID]
	if !ok {
		return "", gatewayerr.NotFound("unknown gateway_id")
	}
	return url, nil
}
