package runtime

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/nautilus-trader/nautilus-core-go/internal/data"
	"github.com/nautilus-trader/nautilus-core-go/internal/execution"
	"github.com/nautilus-trader/nautilus-core-go/internal/portfolio"
	"github.com/nautilus-trader/nautilus-core-go/internal/risk"
	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// MakerConfig parameterizes the Avellaneda-Stoikov quoting model,
// generalizing config.StrategyConfig's market-making fields from one
// Polymarket market's env vars into per-strategy construction
// arguments.
type MakerConfig struct {
	Gamma             float64 // risk aversion
	Sigma             float64 // estimated volatility
	K                 float64 // order arrival intensity
	T                 float64 // time horizon
	DefaultSpreadBps  int
	OrderSizeUSD      float64
	RefreshInterval   time.Duration
	StaleBookTimeout  time.Duration

	FlowWindow              time.Duration
	FlowToxicityThreshold   float64
	FlowCooldownPeriod      time.Duration
	FlowMaxSpreadMultiplier float64
}

// quotePair is the bid/ask this tick's computeQuotes produced. Either
// side may be nil when no order should be resting there.
type quotePair struct {
	Bid *model.Order
	Ask *model.Order
}

// Maker runs the Avellaneda-Stoikov market-making algorithm for a
// single instrument as a runtime Actor, generalizing
// strategy.Maker.Run/quoteUpdate/computeQuotes/reconcileOrders from a
// binary YES/NO Polymarket pair priced in [0,1] to an arbitrary
// instrument with its own tick size, price range and currency.
type Maker struct {
	*BaseActor

	instrument model.InstrumentDefinition
	accountID  model.AccountID
	cfg        MakerConfig

	exec *execution.Engine
	data *data.Engine
	pf   *portfolio.Portfolio
	risk *risk.Manager
	flow *FlowTracker

	activeOrders map[model.ClientOrderID]*model.Order

	logger *slog.Logger
}

// NewMaker constructs a Maker bound to one instrument and account.
func NewMaker(
	id model.StrategyID,
	instrument model.InstrumentDefinition,
	accountID model.AccountID,
	cfg MakerConfig,
	execEngine *execution.Engine,
	dataEngine *data.Engine,
	pf *portfolio.Portfolio,
	riskMgr *risk.Manager,
	logger *slog.Logger,
) *Maker {
	logger = logger.With("component", "maker", "instrument", instrument.ID)
	m := &Maker{
		BaseActor:    NewBaseActor(id, logger),
		instrument:   instrument,
		accountID:    accountID,
		cfg:          cfg,
		exec:         execEngine,
		data:         dataEngine,
		pf:           pf,
		risk:         riskMgr,
		flow:         NewFlowTracker(cfg.FlowWindow, cfg.FlowToxicityThreshold, cfg.FlowCooldownPeriod, cfg.FlowMaxSpreadMultiplier),
		activeOrders: make(map[model.ClientOrderID]*model.Order),
		logger:       logger,
	}
	m.Bind(m)
	return m
}

// OnStart logs strategy startup, satisfying OnStartHandler.
func (m *Maker) OnStart() {
	m.logger.Info("strategy started",
		"tick", m.instrument.PriceIncrement,
		"order_size_usd", m.cfg.OrderSizeUSD,
	)
}

// OnStop cancels every resting order, satisfying OnStopHandler.
func (m *Maker) OnStop() {
	m.exec.CancelAll(context.Background(), m.instrument.ID)
	m.logger.Info("strategy stopped")
}

// OnFill feeds a completed fill into the flow tracker, satisfying
// OnFillHandler. Position bookkeeping itself happens in
// internal/execution/internal/portfolio before this hook fires; this
// is purely the toxic-flow signal the teacher's handleFill computed
// inline.
func (m *Maker) OnFill(o *model.Order, ev model.OrderEvent) {
	m.flow.AddFill(FlowFill{Side: o.Side, Quantity: ev.FillQty, Timestamp: ev.Timestamp})

	toxicity := m.flow.CalculateToxicity()
	if toxicity.IsAdverse {
		m.logger.Warn("toxic flow detected",
			"side", o.Side,
			"toxicity_score", toxicity.ToxicityScore,
			"directional_imbalance", toxicity.DirectionalImbalance,
			"fill_velocity", toxicity.FillVelocity,
			"fill_count", m.flow.FillCount(),
		)
	}

	m.logger.Info("fill", "side", o.Side, "price", ev.FillPrice, "qty", ev.FillQty, "client_order_id", o.ClientOrderID)
}

// OnOrderEvent drops terminal orders from the local active-order map,
// satisfying OnOrderEventHandler.
func (m *Maker) OnOrderEvent(o *model.Order, ev model.OrderEvent) {
	if o.Status.IsTerminal() {
		delete(m.activeOrders, o.ClientOrderID)
	}
}

// Run drives the per-tick quoting loop until ctx is cancelled,
// generalizing strategy.Maker.Run's ticker-driven select loop. Order
// and fill events arrive through the capability dispatch hooks above
// rather than the teacher's dedicated tradeCh/orderCh channels, so
// this loop only needs to drive the ticker.
func (m *Maker) Run(ctx context.Context) error {
	if err := m.Initialize(); err != nil {
		return err
	}
	if err := m.Start(); err != nil {
		return err
	}

	ticker := RefreshTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.Stop()
		case <-ticker.C:
			m.quoteUpdate(ctx)
		}
	}
}

// quoteUpdate is the per-tick core logic: refresh position/risk state,
// compute desired quotes, and reconcile them against active orders.
func (m *Maker) quoteUpdate(ctx context.Context) {
	book := m.data.Book(m.instrument.ID)
	if book == nil {
		return
	}
	if book.IsStale(m.cfg.StaleBookTimeout) {
		m.logger.Warn("book is stale, cancelling all orders")
		m.exec.CancelAll(ctx, m.instrument.ID)
		return
	}

	mid, ok := book.MidPrice()
	if !ok {
		return
	}
	m.pf.UpdateMark(m.instrument.ID, mid)

	pos, _ := m.pf.Position(m.instrument.ID, m.accountID)
	exposureUSD := 0.0
	unrealized := 0.0
	realized := 0.0
	if pos != nil {
		exposureUSD = pos.NotionalUSD(mid).Float64()
		unrealized = pos.UnrealizedPnL.Float64()
		realized = pos.RealizedPnL.Float64()
	}

	m.risk.Report(risk.PositionReport{
		InstrumentID:  m.instrument.ID,
		MidPrice:      mid.Float64(),
		ExposureUSD:   exposureUSD,
		UnrealizedPnL: unrealized,
		RealizedPnL:   realized,
		Timestamp:     time.Now(),
	})

	if m.risk.IsKillSwitchActive() {
		m.logger.Warn("kill switch active, cancelling all orders")
		m.exec.CancelAll(ctx, m.instrument.ID)
		return
	}

	remaining := m.risk.RemainingBudget(m.instrument.ID)
	if remaining <= 0 {
		m.logger.Info("risk budget exhausted")
		m.exec.CancelAll(ctx, m.instrument.ID)
		return
	}

	desired := m.computeQuotes(mid.Float64(), remaining)
	if err := m.reconcileOrders(ctx, desired); err != nil {
		m.logger.Error("reconcile orders failed", "error", err)
	}
}

// computeQuotes implements the Avellaneda-Stoikov model:
//
//	reservation_price = mid - q * gamma * sigma^2 * T
//	optimal_spread    = gamma * sigma^2 * T + (2/gamma) * ln(1 + gamma/k)
//	bid = reservation_price - optimal_spread/2
//	ask = reservation_price + optimal_spread/2
//
// generalized from strategy.Maker.computeQuotes to an instrument with
// arbitrary tick size and price bounds rather than a fixed [0,1] range.
func (m *Maker) computeQuotes(mid, remainingBudget float64) quotePair {
	q := m.pf.NetDelta()
	gamma, sigma, k, T := m.cfg.Gamma, m.cfg.Sigma, m.cfg.K, m.cfg.T
	minSpread := float64(m.cfg.DefaultSpreadBps) / 10000.0

	tick := m.instrument.PriceIncrement.Float64()
	if tick <= 0 {
		tick = math.Pow(10, -float64(m.instrument.PricePrecision))
	}

	flowMultiplier := m.flow.GetSpreadMultiplier()
	minSpread *= flowMultiplier

	reservationPrice := mid - q*gamma*sigma*sigma*T

	optSpread := gamma*sigma*sigma*T + (2.0/gamma)*math.Log(1+gamma/k)
	optSpread *= flowMultiplier

	bidRaw := reservationPrice - optSpread/2
	askRaw := reservationPrice + optSpread/2

	if (askRaw - bidRaw) < minSpread {
		bidRaw = reservationPrice - minSpread/2
		askRaw = reservationPrice + minSpread/2
	}

	minPrice := m.instrument.MinPrice.Float64()
	maxPrice := m.instrument.MaxPrice.Float64()
	if maxPrice <= 0 {
		maxPrice = math.MaxFloat64
	}
	bidRaw = clamp(bidRaw, minPrice+tick, maxPrice-tick)
	askRaw = clamp(askRaw, minPrice+tick, maxPrice-tick)

	if bidRaw >= askRaw {
		bidRaw = askRaw - tick
	}

	bidPrice := m.instrument.RoundPriceDown(model.NewPriceFromFloat(bidRaw, m.instrument.PricePrecision))
	askPrice := m.instrument.RoundPriceUp(model.NewPriceFromFloat(askRaw, m.instrument.PricePrecision))
	if bidPrice.Cmp(askPrice) >= 0 {
		askPrice = model.NewPrice(bidPrice.Decimal().Add(m.instrument.PriceIncrement.Decimal()))
	}

	absQ := math.Abs(q)
	sizeFactor := 1.0 - 0.5*absQ
	baseSize := m.cfg.OrderSizeUSD / mid
	minSize := m.instrument.SizeIncrement.Float64()
	bidSize := math.Max(baseSize*sizeFactor, minSize)
	askSize := math.Max(baseSize*sizeFactor, minSize)

	bidPriceF := bidPrice.Float64()
	askPriceF := askPrice.Float64()
	if bidPriceF > 0 {
		bidSize = math.Min(bidSize, remainingBudget/bidPriceF)
	}
	if askPriceF > 0 {
		askSize = math.Min(askSize, remainingBudget/askPriceF)
	}
	totalNotional := bidSize*bidPriceF + askSize*askPriceF
	if totalNotional > remainingBudget && totalNotional > 0 {
		scale := remainingBudget / totalNotional
		bidSize *= scale
		askSize *= scale
	}

	var out quotePair
	now := time.Now()

	if bidSize >= minSize && bidPriceF > 0 {
		out.Bid = model.NewOrder(newClientOrderID(), m.instrument.ID, m.ID(), model.OrderSideBuy, model.OrderTypeLimit,
			model.NewQuantityFromFloat(bidSize, m.instrument.SizePrecision), bidPrice, model.TimeInForceGTC, now)
	}
	if askSize >= minSize && askPriceF > 0 {
		out.Ask = model.NewOrder(newClientOrderID(), m.instrument.ID, m.ID(), model.OrderSideSell, model.OrderTypeLimit,
			model.NewQuantityFromFloat(askSize, m.instrument.SizePrecision), askPrice, model.TimeInForceGTC, now)
	}

	toxicity := m.flow.CalculateToxicity()
	m.logger.Debug("quotes computed",
		"mid", mid, "q", q, "reservation", reservationPrice,
		"bid", bidPrice, "ask", askPrice,
		"toxicity_score", toxicity.ToxicityScore,
		"flow_spread_multiplier", flowMultiplier,
	)

	return out
}

// reconcileOrders diffs desired quotes against active orders: an
// existing order survives if its price is within one tick and its
// leaves quantity is within 10% of the desired size, the same
// tolerance strategy.Maker.reconcileOrders used. Everything else is
// cancelled and replaced.
func (m *Maker) reconcileOrders(ctx context.Context, desired quotePair) error {
	const sizeTolerancePct = 0.10
	tick := m.instrument.PriceIncrement.Decimal()

	matchedBid, matchedAsk := false, false

	for id, order := range m.activeOrders {
		if !order.IsWorking() {
			delete(m.activeOrders, id)
			continue
		}

		var desiredOrder *model.Order
		switch order.Side {
		case model.OrderSideBuy:
			desiredOrder = desired.Bid
		case model.OrderSideSell:
			desiredOrder = desired.Ask
		}
		if desiredOrder == nil {
			if err := m.exec.CancelOrder(ctx, id); err != nil {
				m.logger.Error("cancel stale order failed", "client_order_id", id, "error", err)
			}
			continue
		}

		priceDiff := order.Price.Decimal().Sub(desiredOrder.Price.Decimal()).Abs()
		leaves := order.LeavesQty().Float64()
		desiredSize := desiredOrder.Quantity.Float64()
		sizeOK := desiredSize > 0 && math.Abs(leaves-desiredSize)/desiredSize <= sizeTolerancePct

		if priceDiff.Cmp(tick) <= 0 && sizeOK {
			if order.Side == model.OrderSideBuy {
				matchedBid = true
			} else {
				matchedAsk = true
			}
			continue
		}

		if err := m.exec.CancelOrder(ctx, id); err != nil {
			m.logger.Error("cancel stale order failed", "client_order_id", id, "error", err)
		}
	}

	notionalOf := func(o *model.Order) float64 { return o.Price.Decimal().Mul(o.Quantity.Decimal()).InexactFloat64() }

	if !matchedBid && desired.Bid != nil {
		if err := m.exec.SubmitOrder(ctx, desired.Bid, notionalOf(desired.Bid)); err != nil {
			m.logger.Error("submit bid failed", "error", err)
		} else {
			m.activeOrders[desired.Bid.ClientOrderID] = desired.Bid
		}
	}
	if !matchedAsk && desired.Ask != nil {
		if err := m.exec.SubmitOrder(ctx, desired.Ask, notionalOf(desired.Ask)); err != nil {
			m.logger.Error("submit ask failed", "error", err)
		} else {
			m.activeOrders[desired.Ask.ClientOrderID] = desired.Ask
		}
	}

	return nil
}

func newClientOrderID() model.ClientOrderID {
	return model.ClientOrderID(uuid.New().String())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
