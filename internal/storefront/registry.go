// Package storefront loads the static storefront configuration files.
package storefront

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/escrow-marketplace/backend/internal/models"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("storefront not found")

type Registry struct {
	byID  map[string]*models.Storefront
	order []string
}

// Load reads every *.json file in dir. Each file holds one storefront.
func Load(dir string, log *zap.Logger) (*Registry, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	r := &Registry{byID: make(map[string]*models.Storefront, len(files))}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		sf, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("storefront %s: %w", filepath.Base(f), err)
		}
		if err := r.add(sf); err != nil {
			return nil, err
		}
		log.Info("storefront loaded",
			zap.String("id", sf.ID),
			zap.Int("collection", len(sf.CollectionMints)),
			zap.Int("currencies", len(sf.Currencies())),
		)
	}
	return r, nil
}

// New builds a registry from already parsed storefronts.
func New(storefronts ...*models.Storefront) (*Registry, error) {
	r := &Registry{byID: make(map[string]*models.Storefront, len(storefronts))}
	for _, sf := range storefronts {
		if err := r.add(sf); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(sf *models.Storefront) error {
	if _, dup := r.byID[sf.ID]; dup {
		return fmt.Errorf("duplicate storefront id %q", sf.ID)
	}
	r.byID[sf.ID] = sf
	r.order = append(r.order, sf.ID)
	return nil
}

func Parse(data []byte) (*models.Storefront, error) {
	var sf models.Storefront
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, err
	}
	sf.ID = strings.TrimSpace(sf.ID)
	if sf.ID == "" {
		return nil, errors.New("id is required")
	}
	if sf.BaseCurrency.IsZero() {
		return nil, errors.New("baseCurrency is required")
	}
	if sf.ShopFee != nil && sf.ShopFee.Wallet.IsZero() {
		return nil, errors.New("shopFee.wallet is required")
	}
	return &sf, nil
}

func (r *Registry) Get(id string) (*models.Storefront, error) {
	sf, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sf, nil
}

// List returns storefronts in load order.
func (r *Registry) List() []*models.Storefront {
	out := make([]*models.Storefront, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
