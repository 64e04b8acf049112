// Package portfolio aggregates positions into portfolio-level views
// (net exposure, net delta, realized/unrealized PnL); it does not read
// account balances or compute margin usage. It generalizes
// internal/strategy/inventory.go's single-market Inventory (NetDelta,
// TotalExposureUSD, UpdateMarkToMarket) from one Polymarket YES/NO pair
// into an arbitrary set of instruments/accounts, per spec §4.6.
package portfolio

import (
	"sync"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/internal/cache"
	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// Portfolio tracks live positions and account balances, fed by fill
// events from internal/execution and mark price updates pushed by the
// runtime Maker strategies (UpdateMark).
type Portfolio struct {
	mu    sync.RWMutex
	cache *cache.Cache

	marks map[model.InstrumentID]model.Price
}

// New constructs a Portfolio backed by the kernel's shared cache (the
// single source of truth per spec §4.2 — Portfolio never keeps its own
// copy of position state, it reads/writes through Cache).
func New(c *cache.Cache) *Portfolio {
	return &Portfolio{cache: c, marks: make(map[model.InstrumentID]model.Price)}
}

// positionID derives the PositionID for an instrument/account pair
// under NETTING (one position per instrument per account).
func positionID(instrumentID model.InstrumentID, accountID model.AccountID) model.PositionID {
	return model.PositionID(string(accountID) + ":" + instrumentID.String())
}

// Position returns the tracked position for an instrument/account
// pair, if one has been opened.
func (p *Portfolio) Position(instrumentID model.InstrumentID, accountID model.AccountID) (*model.Position, bool) {
	return p.cache.Position(positionID(instrumentID, accountID))
}

// UpdateFill applies a fill to the relevant position, creating it if
// this is the instrument's first fill under the account, generalizing
// Inventory.OnFill's dispatch-by-token into dispatch-by-instrument.
func (p *Portfolio) UpdateFill(accountID model.AccountID, instrumentID model.InstrumentID, side model.OrderSide, price model.Price, qty model.Quantity, tradeID model.TradeID, currency string, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := positionID(instrumentID, accountID)
	pos, ok := p.cache.Position(id)
	if !ok {
		pos = model.NewPosition(id, instrumentID, accountID, currency)
	}
	pos.ApplyFill(side, price, qty, tradeID, now)
	return p.cache.AddPosition(pos)
}

// UpdateMark records the latest mark price for an instrument and
// recomputes unrealized PnL on every open position against it,
// generalizing Inventory.UpdateMarkToMarket.
func (p *Portfolio) UpdateMark(instrumentID model.InstrumentID, mark model.Price) {
	p.mu.Lock()
	p.marks[instrumentID] = mark
	p.mu.Unlock()

	for _, pos := range p.cache.PositionsOpen() {
		if pos.InstrumentID == instrumentID {
			pos.UpdateUnrealized(mark)
			_ = p.cache.AddPosition(pos)
		}
	}
}

// NetExposure returns the sum of |NetQty * mark| across all open
// positions, generalizing Inventory.TotalExposureUSD across
// instruments rather than a single market's YES/NO pair.
func (p *Portfolio) NetExposure() model.Money {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := model.ZeroMoney("")
	for _, pos := range p.cache.PositionsOpen() {
		mark, ok := p.marks[pos.InstrumentID]
		if !ok {
			mark = pos.AvgEntryPrice
		}
		total = total.Add(pos.NotionalUSD(mark))
	}
	return total
}

// NetDelta returns the aggregate long/short skew across all positions,
// normalized to [-1, 1] the same way Inventory.NetDelta did for a
// single market's YES/NO pair, generalized to sum signed notional
// across every open position.
func (p *Portfolio) NetDelta() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var longNotional, shortNotional float64
	for _, pos := range p.cache.PositionsOpen() {
		mark, ok := p.marks[pos.InstrumentID]
		if !ok {
			mark = pos.AvgEntryPrice
		}
		notional := pos.NetQty.Decimal().Abs().Mul(mark.Decimal())
		f, _ := notional.Float64()
		if pos.NetQty.IsPositive() {
			longNotional += f
		} else if pos.NetQty.IsNegative() {
			shortNotional += f
		}
	}
	total := longNotional + shortNotional
	if total == 0 {
		return 0
	}
	return (longNotional - shortNotional) / total
}

// TotalRealizedPnL sums RealizedPnL across every position tracked in
// the cache (including flattened ones, unlike PositionsOpen).
func (p *Portfolio) TotalRealizedPnL(currency string) model.Money {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := model.ZeroMoney(currency)
	for _, pos := range p.cache.PositionsOpen() {
		total = total.Add(pos.RealizedPnL)
	}
	return total
}

// TotalUnrealizedPnL sums UnrealizedPnL across open positions.
func (p *Portfolio) TotalUnrealizedPnL(currency string) model.Money {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := model.ZeroMoney(currency)
	for _, pos := range p.cache.PositionsOpen() {
		total = total.Add(pos.UnrealizedPnL)
	}
	return total
}
