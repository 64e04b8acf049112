package cache

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// Cache holds all in-memory state the running kernel needs —
// orders, positions, accounts, instruments — and is the single source
// of truth every other component reads from, per spec §4.2. Writes are
// mirrored to an optional durable Backend so state survives a restart,
// exactly as internal/store/store.go mirrored strategy.Inventory's
// Position after every fill.
type Cache struct {
	mu sync.RWMutex

	orders      map[model.ClientOrderID]*model.Order
	positions   map[model.PositionID]*model.Position
	accounts    map[model.AccountID]*model.Account
	instruments map[model.InstrumentID]model.InstrumentDefinition

	backend Backend
}

// New constructs an empty Cache. backend may be nil to run purely
// in-memory (e.g. unit tests, or a matching-engine-only backtest that
// never needs to survive a restart).
func New(backend Backend) *Cache {
	return &Cache{
		orders:      make(map[model.ClientOrderID]*model.Order),
		positions:   make(map[model.PositionID]*model.Position),
		accounts:    make(map[model.AccountID]*model.Account),
		instruments: make(map[model.InstrumentID]model.InstrumentDefinition),
		backend:     backend,
	}
}

// --- Orders ---

// AddOrder inserts or replaces an order and persists it if a backend is
// configured.
func (c *Cache) AddOrder(o *model.Order) error {
	c.mu.Lock()
	c.orders[o.ClientOrderID] = o
	c.mu.Unlock()
	return c.persist("order:"+string(o.ClientOrderID), o)
}

// Order looks up an order by client order id.
func (c *Cache) Order(id model.ClientOrderID) (*model.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	return o, ok
}

// OrdersOpen returns every order not yet in a terminal state.
func (c *Cache) OrdersOpen() []*model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.Order, 0)
	for _, o := range c.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// OrdersForInstrument returns every order (open or closed) against an
// instrument, used by internal/execution's reconciliation pass.
func (c *Cache) OrdersForInstrument(instrumentID model.InstrumentID) []*model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.Order, 0)
	for _, o := range c.orders {
		if o.InstrumentID == instrumentID {
			out = append(out, o)
		}
	}
	return out
}

// --- Positions ---

func (c *Cache) AddPosition(p *model.Position) error {
	c.mu.Lock()
	c.positions[p.ID] = p
	c.mu.Unlock()
	return c.persist("position:"+string(p.ID), p)
}

func (c *Cache) Position(id model.PositionID) (*model.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[id]
	return p, ok
}

// PositionsOpen returns positions with non-zero net quantity.
func (c *Cache) PositionsOpen() []*model.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.Position, 0)
	for _, p := range c.positions {
		if !p.NetQty.IsZero() {
			out = append(out, p)
		}
	}
	return out
}

// --- Accounts ---

func (c *Cache) AddAccount(a *model.Account) error {
	c.mu.Lock()
	c.accounts[a.ID] = a
	c.mu.Unlock()
	return c.persist("account:"+string(a.ID), a)
}

func (c *Cache) Account(id model.AccountID) (*model.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.accounts[id]
	return a, ok
}

// --- Instruments ---

func (c *Cache) AddInstrument(def model.InstrumentDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments[def.ID] = def
}

func (c *Cache) Instrument(id model.InstrumentID) (model.InstrumentDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.instruments[id]
	return d, ok
}

// --- Durability ---

func (c *Cache) persist(key string, v interface{}) error {
	if c.backend == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal %q: %w", key, err)
	}
	return c.backend.Put(key, data)
}

// LoadFromBackend repopulates orders/positions/accounts from the
// configured durable backend, run once at kernel startup — the
// generalized form of the teacher's LoadPosition-on-startup recovery
// path in internal/engine/engine.go's New().
func (c *Cache) LoadFromBackend() error {
	if c.backend == nil {
		return nil
	}
	if err := c.loadPrefix("order:", func(data []byte) error {
		var o model.Order
		if err := json.Unmarshal(data, &o); err != nil {
			return err
		}
		c.mu.Lock()
		c.orders[o.ClientOrderID] = &o
		c.mu.Unlock()
		return nil
	}); err != nil {
		return err
	}
	if err := c.loadPrefix("position:", func(data []byte) error {
		var p model.Position
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		c.mu.Lock()
		c.positions[p.ID] = &p
		c.mu.Unlock()
		return nil
	}); err != nil {
		return err
	}
	return c.loadPrefix("account:", func(data []byte) error {
		var a model.Account
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		c.mu.Lock()
		c.accounts[a.ID] = &a
		c.mu.Unlock()
		return nil
	})
}

func (c *Cache) loadPrefix(prefix string, apply func([]byte) error) error {
	keys, err := c.backend.Keys(prefix)
	if err != nil {
		return fmt.Errorf("cache: list %q: %w", prefix, err)
	}
	for _, k := range keys {
		data, err := c.backend.Get(k)
		if err != nil {
			return fmt.Errorf("cache: load %q: %w", k, err)
		}
		if data == nil {
			continue
		}
		if err := apply(data); err != nil {
			return fmt.Errorf("cache: decode %q: %w", k, err)
		}
	}
	return nil
}

func (c *Cache) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}
