package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/google/uuid"
)

const (
	// EventRetention is how long a published outbox event is kept
	EventRetention = 10 * time.Minute

	// CleanupInterval is how often the background cleanup runs
	CleanupInterval = 30 * time.Second
)

var _ store.Store = (*MemoryStore)(nil)

// MemoryStore implements store.Store in process memory.
//
// Committed state (products, orders, events) sits behind mu. Writers of a
// product additionally hold that product's key lock for the whole unit, so
// decrements on one product are totally ordered while readers only ever see
// committed values.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[int64]*domain.Product
	orders   map[string]domain.Order
	byUser   map[string][]string // userID -> order IDs, insertion order
	events   []*domain.OutboxEvent

	productLocks *keyLocker[int64]

	cartsMu sync.Mutex
	carts   map[string]*cartEntry // userID -> cart

	now func() time.Time

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

type cartEntry struct {
	mu   sync.Mutex
	cart domain.Cart
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		products:     make(map[int64]*domain.Product),
		orders:       make(map[string]domain.Order),
		byUser:       make(map[string][]string),
		productLocks: newKeyLocker[int64](),
		carts:        make(map[string]*cartEntry),
		now:          func() time.Time { return time.Now().UTC() },
		stopCleanup:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pruneEvents(s.now().Add(-EventRetention))
		case <-s.stopCleanup:
			return
		}
	}
}

// pruneEvents drops events published before cutoff.
func (s *MemoryStore) pruneEvents(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.PublishedAt != nil && ev.PublishedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, ev)
	}
	clear(s.events[len(kept):])
	s.events = kept
}

func (s *MemoryStore) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return *p, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) UpsertProduct(ctx context.Context, p domain.Product) error {
	if err := s.productLocks.Lock(ctx, p.ID); err != nil {
		return err
	}
	defer s.productLocks.Unlock(p.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.products[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
		p.Stock = existing.Stock
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.products[p.ID] = &p
	return nil
}

// WithinTx stages every write in a memTx and applies it under one write lock.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		s:     s,
		held:  make(map[int64]bool),
		stock: make(map[int64]int32),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commit()
	return nil
}

type memTx struct {
	s      *MemoryStore
	held   map[int64]bool  // product locks taken by this unit
	stock  map[int64]int32 // staged stock levels
	orders []domain.Order
	events []domain.OutboxEvent
}

func (tx *memTx) DecrementStock(ctx context.Context, productID int64, qty int32) (int32, error) {
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	if !tx.held[productID] {
		if err := tx.s.productLocks.Lock(ctx, productID); err != nil {
			return 0, err
		}
		tx.held[productID] = true
	}

	current, staged := tx.stock[productID]
	if !staged {
		tx.s.mu.RLock()
		p, ok := tx.s.products[productID]
		if ok {
			current = p.Stock
		}
		tx.s.mu.RUnlock()
		if !ok {
			return 0, domain.ErrProductNotFound
		}
	}

	if current < qty {
		return 0, &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: current}
	}

	tx.stock[productID] = current - qty
	return current - qty, nil
}

func (tx *memTx) InsertOrder(ctx context.Context, o domain.Order) error {
	tx.s.mu.RLock()
	_, exists := tx.s.orders[o.ID]
	tx.s.mu.RUnlock()
	if exists || slices.ContainsFunc(tx.orders, func(x domain.Order) bool { return x.ID == o.ID }) {
		return fmt.Errorf("insert order %s: duplicate id", o.ID)
	}

	tx.orders = append(tx.orders, o)
	return nil
}

func (tx *memTx) AppendEvent(ctx context.Context, ev domain.OutboxEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	tx.events = append(tx.events, ev)
	return nil
}

func (tx *memTx) commit() {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, level := range tx.stock {
		p := s.products[id]
		p.Stock = level
		p.UpdatedAt = now
	}
	for _, o := range tx.orders {
		s.orders[o.ID] = o
		s.byUser[o.UserID] = append(s.byUser[o.UserID], o.ID)
	}
	for i := range tx.events {
		ev := tx.events[i]
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		s.events = append(s.events, &ev)
	}
}

func (tx *memTx) release() {
	for id := range tx.held {
		tx.s.productLocks.Unlock(id)
	}
	tx.held = nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *MemoryStore) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	result := make([]domain.Order, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		result = append(result, s.orders[ids[i]])
	}
	return result, nil
}

func (s *MemoryStore) FetchPendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.OutboxEvent
	for _, ev := range s.events {
		if len(result) >= limit {
			break
		}
		if ev.PublishedAt == nil {
			result = append(result, *ev)
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkEventPublished(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events {
		if ev.ID == id {
			now := s.now()
			ev.PublishedAt = &now
			return nil
		}
	}
	return store.ErrEventNotFound
}

// Close stops the background cleanup and waits for it to finish
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	s.wg.Wait()
	return nil
}
