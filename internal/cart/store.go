package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dtgportal/portalsync/internal/portal"
	"github.com/shopspring/decimal"
)

var ErrInvalidInput = errors.New("cart: invalid input")

const defaultStorageKey = "quote-items"

type Logger interface {
	Printf(format string, args ...any)
}

// Store holds the customer's draft quote lines and keeps them durable across
// sessions. Every mutation after the initial load persists the full snapshot;
// mutations before Load complete only in memory so an empty startup state can
// never clobber a stored cart.
type Store struct {
	backend Backend
	key     string
	logger  Logger
	now     func() time.Time

	mu     sync.Mutex
	loaded bool
	items  []portal.CartLineEntry
}

type StoreOptions struct {
	Backend    Backend
	StorageKey string
	Logger     Logger
	Now        func() time.Time
}

func NewStore(opts StoreOptions) *Store {
	backend := opts.Backend
	if backend == nil {
		backend = NewInMemoryBackend()
	}
	key := opts.StorageKey
	if key == "" {
		key = defaultStorageKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		backend: backend,
		key:     key,
		logger:  logger,
		now:     now,
	}
}

// Load reads the persisted snapshot, normalizes every entry, and reconciles
// against catalog when one is supplied. A snapshot that fails to decode is
// backed up under a timestamped key and the cart starts empty; stored data is
// never discarded.
func (s *Store) Load(ctx context.Context, catalog []portal.Product) error {
	if s == nil {
		return ErrInvalidInput
	}
	blob, err := s.backend.Load(ctx, s.key)
	if err != nil {
		return err
	}

	entries := []portal.CartLineEntry{}
	if len(blob) > 0 {
		var parsed any
		if decodeErr := json.Unmarshal(blob, &parsed); decodeErr != nil {
			// Only an unparsable blob counts as corruption. Well-formed JSON
			// that is not an entry list is ignored without a backup.
			backupKey := fmt.Sprintf("%s-broken-%d", s.key, s.now().UnixMilli())
			if backupErr := s.backend.Save(ctx, backupKey, blob); backupErr != nil {
				s.logger.Printf("cart: backup of corrupt snapshot failed: %v", backupErr)
			} else {
				s.logger.Printf("cart: corrupt snapshot moved to %s, starting empty", backupKey)
			}
		} else if rawList, ok := parsed.([]any); ok {
			entries = make([]portal.CartLineEntry, 0, len(rawList))
			for _, item := range rawList {
				raw, ok := item.(map[string]any)
				if !ok {
					continue
				}
				entries = append(entries, portal.NormalizeCartEntry(raw))
			}
		} else {
			s.logger.Printf("cart: snapshot under %s is not an entry list, starting empty", s.key)
		}
	}

	s.mu.Lock()
	s.items = reconcileEntries(entries, catalog)
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Reconcile re-applies canonical catalog fields to the current lines. Called
// again whenever a fresher catalog arrives. Quantities are always preserved.
func (s *Store) Reconcile(ctx context.Context, catalog []portal.Product) error {
	if s == nil || len(catalog) == 0 {
		return nil
	}
	s.mu.Lock()
	s.items = reconcileEntries(s.items, catalog)
	s.mu.Unlock()
	s.persist(ctx)
	return nil
}

func reconcileEntries(entries []portal.CartLineEntry, catalog []portal.Product) []portal.CartLineEntry {
	if len(catalog) == 0 {
		return entries
	}
	byPart := make(map[string]portal.Product, len(catalog))
	for _, product := range catalog {
		if product.PartNumber != "" {
			byPart[product.PartNumber] = product
		}
	}
	reconciled := make([]portal.CartLineEntry, 0, len(entries))
	for _, entry := range entries {
		if product, ok := byPart[entry.Identity()]; ok {
			if product.Name != "" {
				entry.Name = product.Name
			}
			if product.Description != "" {
				entry.Description = product.Description
			}
			if product.Image != "" {
				entry.Image = product.Image
			}
			if product.RequiresHardwareRef != "" {
				entry.RequiresHardwareRef = product.RequiresHardwareRef
			}
			entry.UnitPrice = product.UnitPrice
			if product.ID != "" {
				entry.ID = product.ID
			}
		}
		reconciled = append(reconciled, entry)
	}
	return reconciled
}

// AddItem normalizes raw and merges it into the cart. A line with the same
// identity has its quantity summed; the unit price is overwritten only when
// raw carried a parseable price, and descriptive fields only when non-empty.
func (s *Store) AddItem(ctx context.Context, raw map[string]any) (portal.CartLineEntry, error) {
	if s == nil || raw == nil {
		return portal.CartLineEntry{}, ErrInvalidInput
	}
	incoming := portal.NormalizeCartEntry(raw)
	_, priceProvided := portal.DecimalField(raw, "price")

	s.mu.Lock()
	merged := incoming
	found := false
	for i, existing := range s.items {
		if !existing.Matches(incoming.Identity()) {
			continue
		}
		existing.Quantity += incoming.Quantity
		if priceProvided {
			existing.UnitPrice = incoming.UnitPrice
		}
		if incoming.Name != "" {
			existing.Name = incoming.Name
		}
		if incoming.Description != "" {
			existing.Description = incoming.Description
		}
		if incoming.Image != "" {
			existing.Image = incoming.Image
		}
		if incoming.Notes != "" {
			existing.Notes = incoming.Notes
		}
		s.items[i] = existing
		merged = existing
		found = true
		break
	}
	if !found {
		s.items = append(s.items, incoming)
	}
	s.mu.Unlock()

	s.persist(ctx)
	return merged, nil
}

// UpdateQuantity sets the line's quantity; zero or negative removes the line.
// An unknown identifier is a no-op.
func (s *Store) UpdateQuantity(ctx context.Context, identifier string, quantity int) error {
	if s == nil || identifier == "" {
		return ErrInvalidInput
	}
	if quantity <= 0 {
		return s.RemoveItem(ctx, identifier)
	}
	s.mu.Lock()
	changed := false
	for i, entry := range s.items {
		if entry.Matches(identifier) {
			s.items[i].Quantity = quantity
			changed = true
			break
		}
	}
	s.mu.Unlock()
	if !changed {
		return nil
	}
	s.persist(ctx)
	return nil
}

func (s *Store) RemoveItem(ctx context.Context, identifier string) error {
	if s == nil || identifier == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	kept := s.items[:0]
	removed := false
	for _, entry := range s.items {
		if entry.Matches(identifier) {
			removed = true
			continue
		}
		kept = append(kept, entry)
	}
	s.items = kept
	s.mu.Unlock()
	if !removed {
		return nil
	}
	s.persist(ctx)
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if s == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
	s.persist(ctx)
	return nil
}

func (s *Store) Items() []portal.CartLineEntry {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]portal.CartLineEntry, len(s.items))
	copy(items, s.items)
	return items
}

func (s *Store) Loaded() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, entry := range s.items {
		total += entry.Quantity
	}
	return total
}

func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, entry := range s.items {
		total = total.Add(entry.LineTotal())
	}
	return total
}

// persist is best effort: a storage write failure is logged and the in-memory
// state stands, so a full disk or unreachable database never loses the
// operation the user just made.
func (s *Store) persist(ctx context.Context) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return
	}
	persisted := make([]portal.PersistedCartEntry, 0, len(s.items))
	for _, entry := range s.items {
		persisted = append(persisted, entry.ToPersisted())
	}
	s.mu.Unlock()

	blob, err := json.Marshal(persisted)
	if err != nil {
		s.logger.Printf("cart: snapshot encode failed: %v", err)
		return
	}
	if err := s.backend.Save(ctx, s.key, blob); err != nil {
		s.logger.Printf("cart: persist failed: %v", err)
	}
}
