// Package kernel assembles every other package in this module into one
// running process: clock, bus, cache, data/execution/risk engines,
// portfolio, venue adapters, and strategies, per spec §4.11 and §9's
// "a process owns exactly one logical clock and one message bus"
// single-instance rule. It generalizes the teacher's
// internal/engine.Engine (one hardcoded Polymarket market-maker
// orchestrator wired to one wallet and one scanner) into a
// venue-agnostic kernel that can host any number of strategies against
// any venue adapter satisfying execution.Client/data.HistoricalProvider.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/nautilus-trader/nautilus-core-go/internal/adapters"
	"github.com/nautilus-trader/nautilus-core-go/internal/bus"
	"github.com/nautilus-trader/nautilus-core-go/internal/cache"
	"github.com/nautilus-trader/nautilus-core-go/internal/clock"
	"github.com/nautilus-trader/nautilus-core-go/internal/data"
	"github.com/nautilus-trader/nautilus-core-go/internal/execution"
	"github.com/nautilus-trader/nautilus-core-go/internal/observability"
	"github.com/nautilus-trader/nautilus-core-go/internal/portfolio"
	"github.com/nautilus-trader/nautilus-core-go/internal/risk"
	"github.com/nautilus-trader/nautilus-core-go/internal/runtime"
	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// instanceOwned enforces the single-instance-per-process rule from
// spec §9: a process owns exactly one logical clock and one message
// bus, so at most one Kernel may exist per process at a time.
var instanceOwned atomic.Bool

// instrumentSlot bundles the per-instrument runtime state a Kernel
// manages, the generalized form of the teacher's marketSlot
// (internal/engine/engine.go) which paired one book/inventory/maker
// triple with one Polymarket market.
type instrumentSlot struct {
	definition model.InstrumentDefinition
	strategy   *runtime.Maker
	cancel     context.CancelFunc
}

// Kernel owns every shared component for one trading process: the
// clock, bus, cache, data/execution/risk engines, portfolio, venue
// connection, and the strategies trading against them. It generalizes
// internal/engine.Engine's New/Start/Stop/manageMarkets lifecycle from
// one hardcoded wallet+market pair into an account/venue/strategy-set
// assembled from Config.
type Kernel struct {
	cfg    Config
	logger *slog.Logger

	clk   clock.Clock
	msgBus *bus.MessageBus
	cache *cache.Cache

	dataEngine *data.Engine
	execEngine *execution.Engine
	riskMgr    *risk.Manager
	pf         *portfolio.Portfolio
	account    *model.Account

	restClient *adapters.RESTClient
	marketFeed *adapters.WSFeed
	userFeed   *adapters.WSFeed
	discovery  *adapters.Discovery
	catalog    *adapters.Catalog
	scheduler  *clock.Scheduler

	backtest *BacktestClient

	obsServer *observability.Server

	slotsMu sync.Mutex
	slots   map[model.InstrumentID]*instrumentSlot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a Kernel from cfg without starting any goroutines,
// generalizing internal/engine.Engine.New's wiring of exchange client,
// auth, WS feeds, scanner, and risk manager into the data/execution/
// risk/portfolio engine set plus a single adapters-backed venue
// connection (or a BacktestClient in backtest environment).
func New(cfg Config, logger *slog.Logger) (*Kernel, error) {
	if !instanceOwned.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("kernel: a Kernel instance already owns this process's clock and bus")
	}

	registerer := prometheus.DefaultRegisterer

	k := &Kernel{
		cfg:    cfg,
		logger: logger.With("component", "kernel", "trader_id", cfg.TraderID),
		slots:  make(map[model.InstrumentID]*instrumentSlot),
	}

	if cfg.Environment == "backtest" {
		k.clk = clock.NewTestClock(time.Now())
	} else {
		k.clk = clock.NewLiveClock()
	}

	k.msgBus = bus.New(k.logger, registerer)

	backend, err := buildCacheBackend(cfg.Cache, k.logger)
	if err != nil {
		instanceOwned.Store(false)
		return nil, fmt.Errorf("kernel: build cache backend: %w", err)
	}
	k.cache = cache.New(backend)
	if err := k.cache.LoadFromBackend(); err != nil {
		k.logger.Warn("cache: failed to restore from backend", "error", err)
	}

	accountID := model.AccountID(cfg.Account.ID)
	k.account, _ = k.cache.Account(accountID)
	if k.account == nil {
		k.account = model.NewAccount(accountID, model.AccountType(cfg.Account.Type))
		_ = k.cache.AddAccount(k.account)
	}

	oms := execution.OMSNetting
	if cfg.Account.OMS == "HEDGING" {
		oms = execution.OMSHedging
	}

	k.riskMgr = risk.NewManager(risk.Config{
		MaxPositionPerInstrument: cfg.Risk.MaxPositionPerInstrument,
		MaxGlobalExposure:        cfg.Risk.MaxGlobalExposure,
		MaxInstrumentsActive:     cfg.Risk.MaxInstrumentsActive,
		KillSwitchDropPct:        cfg.Risk.KillSwitchDropPct,
		KillSwitchWindowSec:      cfg.Risk.KillSwitchWindowSec,
		MaxDailyLoss:             cfg.Risk.MaxDailyLoss,
		CooldownAfterKill:        cfg.Risk.CooldownAfterKill,
	}, k.logger, registerer)

	k.pf = portfolio.New(k.cache)

	var historic data.HistoricalProvider
	if cfg.Catalog.DSN != "" {
		catalog, err := adapters.OpenCatalog(context.Background(), cfg.Catalog.DSN)
		if err != nil {
			instanceOwned.Store(false)
			return nil, fmt.Errorf("kernel: open catalog: %w", err)
		}
		k.catalog = catalog
		historic = catalog
	}

	var execClient execution.Client
	if cfg.Environment == "backtest" {
		k.backtest = NewBacktestClient()
		execClient = k.backtest
		if historic == nil {
			historic = k.backtest
		}
	} else {
		auth := buildAuthProvider(cfg.Venue)
		rl := adapters.NewRateLimiter(
			cfg.Venue.OrderBurst, cfg.Venue.OrderRate,
			cfg.Venue.CancelBurst, cfg.Venue.CancelRate,
			cfg.Venue.QueryBurst, cfg.Venue.QueryRate,
		)
		k.restClient = adapters.NewRESTClient(adapters.RESTConfig{
			BaseURL:    cfg.Venue.RESTBaseURL,
			Timeout:    cfg.Venue.Timeout,
			RetryCount: cfg.Venue.RetryCount,
		}, auth, rl, k.logger)
		execClient = k.restClient
		if historic == nil {
			historic = k.restClient
		}
		k.marketFeed = adapters.NewMarketFeed(cfg.Venue.WSMarketURL, k.logger)
		if auth != (adapters.NoAuthProvider{}) {
			k.userFeed = adapters.NewUserFeed(cfg.Venue.WSUserURL, auth, k.logger)
		}
	}

	k.dataEngine = data.New(k.msgBus, historic, k.logger)
	k.execEngine = execution.New(accountID, oms, k.cache, k.riskMgr, k.msgBus, execClient, k.logger)

	if cfg.Discovery.Enabled {
		k.discovery = adapters.NewDiscovery(adapters.DiscoveryConfig{
			BaseURL:        cfg.Discovery.BaseURL,
			PollInterval:   cfg.Discovery.PollInterval,
			MinSpread:      decimal.NewFromFloat(cfg.Discovery.MinSpread),
			MinVolume24h:   cfg.Discovery.MinVolume24h,
			MinLiquidity:   cfg.Discovery.MinLiquidity,
			MaxResults:     cfg.Discovery.MaxResults,
			IncludeSymbols: cfg.Discovery.IncludeSymbols,
			ExcludeSymbols: cfg.Discovery.ExcludeSymbols,
		}, k.logger)
	}

	k.scheduler = clock.NewScheduler(k.logger)

	if cfg.Observability.Enabled {
		k.obsServer = observability.NewServer(observability.Config{
			Port:           cfg.Observability.Port,
			AllowedOrigins: cfg.Observability.AllowedOrigins,
		}, k, k.logger)
	}

	k.subscribeBusTopics()

	return k, nil
}

// buildCacheBackend selects a cache.Backend per CacheConfig.Backend,
// generalizing the teacher's hardcoded JSON-file store.StoreConfig
// into a choice among the in-memory default, the adapted JSON-file
// backend, or the embedded Badger KV store.
func buildCacheBackend(cfg CacheConfig, logger *slog.Logger) (cache.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return nil, nil
	case "file":
		return cache.NewFileBackend(cfg.Dir)
	case "badger":
		return cache.NewBadgerBackend(cfg.Dir, logger)
	default:
		return nil, fmt.Errorf("kernel: unknown cache backend %q", cfg.Backend)
	}
}

func buildAuthProvider(cfg VenueConfig) adapters.AuthProvider {
	if cfg.APIKey == "" {
		return adapters.NoAuthProvider{}
	}
	return adapters.NewHMACAuthProvider(cfg.APIKey, cfg.APISecret, cfg.APIPassphrase)
}

// subscribeBusTopics wires the engines together over the message bus,
// the part of spec §4.11's single-bus wiring that internal/execution
// and internal/data deliberately don't do themselves: the filled,
// accepted, rejected, canceled and submitted order events are here
// translated into a portfolio.UpdateFill call on fills and a
// capability-dispatch call into whichever strategy owns the instrument
// (denied, pending-update and pending-cancel events are not
// subscribed), generalizing the
// teacher's dispatchUserEvents (routing WS order events into
// marketSlot.orderCh by tokenMap lookup) into bus-topic subscriptions.
func (k *Kernel) subscribeBusTopics() {
	k.msgBus.Subscribe(execution.TopicOrderFilled, func(_ string, msg interface{}) {
		o, ok := msg.(*model.Order)
		if !ok || len(o.Events) == 0 {
			return
		}
		ev := o.Events[len(o.Events)-1]

		inst, ok := k.cache.Instrument(o.InstrumentID)
		curr := "USD"
		if ok {
			curr = inst.QuoteCurrency
		}
		accountID := model.AccountID(k.cfg.Account.ID)
		if err := k.pf.UpdateFill(accountID, o.InstrumentID, o.Side, ev.FillPrice, ev.FillQty, ev.TradeID, curr, ev.Timestamp); err != nil {
			k.logger.Error("portfolio: apply fill failed", "client_order_id", o.ClientOrderID, "error", err)
		}
		k.dispatchOrderEvent(o, ev)
	})

	for _, topic := range []string{
		execution.TopicOrderAccepted,
		execution.TopicOrderRejected,
		execution.TopicOrderCanceled,
		execution.TopicOrderSubmitted,
	} {
		k.msgBus.Subscribe(topic, func(_ string, msg interface{}) {
			o, ok := msg.(*model.Order)
			if !ok || len(o.Events) == 0 {
				return
			}
			k.dispatchOrderEvent(o, o.Events[len(o.Events)-1])
		})
	}

	k.msgBus.Subscribe(data.TopicQuote+".#", func(_ string, msg interface{}) {
		if q, ok := msg.(model.QuoteTick); ok {
			if slot := k.slotFor(q.InstrumentID); slot != nil {
				slot.strategy.DispatchQuoteTick(q)
			}
		}
	})
	k.msgBus.Subscribe(data.TopicTrade+".#", func(_ string, msg interface{}) {
		if t, ok := msg.(model.TradeTick); ok {
			if slot := k.slotFor(t.InstrumentID); slot != nil {
				slot.strategy.DispatchTradeTick(t)
			}
		}
	})
	k.msgBus.Subscribe(data.TopicBar+".#", func(_ string, msg interface{}) {
		if b, ok := msg.(model.Bar); ok {
			if slot := k.slotFor(b.Type.InstrumentID); slot != nil {
				slot.strategy.DispatchBar(b)
			}
		}
	})
}

func (k *Kernel) dispatchOrderEvent(o *model.Order, ev model.OrderEvent) {
	if slot := k.slotFor(o.InstrumentID); slot != nil {
		slot.strategy.DispatchOrderEvent(o, ev)
	}
}

func (k *Kernel) slotFor(id model.InstrumentID) *instrumentSlot {
	k.slotsMu.Lock()
	defer k.slotsMu.Unlock()
	return k.slots[id]
}

// Start launches every background goroutine: venue feeds, discovery
// polling, risk manager, the backtest fill pump (if any), the
// observability server, and the instrument-management loop,
// generalizing internal/engine.Engine.Start's wg.Add(1)/go func()
// fan-out verbatim.
func (k *Kernel) Start() error {
	k.ctx, k.cancel = context.WithCancel(context.Background())

	k.spawn(func(ctx context.Context) {
		if err := k.riskMgrRun(ctx); err != nil {
			k.logger.Error("risk manager stopped", "error", err)
		}
	})

	if k.marketFeed != nil {
		k.spawn(func(ctx context.Context) {
			if err := k.marketFeed.Run(ctx); err != nil && ctx.Err() == nil {
				k.logger.Error("market feed stopped", "error", err)
			}
		})
		k.spawn(k.pumpMarketFeed)
	}
	if k.userFeed != nil {
		k.spawn(func(ctx context.Context) {
			if err := k.userFeed.Run(ctx); err != nil && ctx.Err() == nil {
				k.logger.Error("user feed stopped", "error", err)
			}
		})
	}
	if k.backtest != nil {
		k.spawn(k.pumpBacktestFills)
	}
	if k.discovery != nil {
		k.spawn(func(ctx context.Context) { k.discovery.Run(ctx) })
		k.spawn(k.manageInstruments)
	}
	if k.obsServer != nil {
		if err := k.obsServer.Start(); err != nil {
			return fmt.Errorf("kernel: start observability server: %w", err)
		}
	}

	if k.cfg.Environment != "backtest" && k.cfg.Risk.ReconciliationInterval > 0 {
		spec := fmt.Sprintf("@every %s", k.cfg.Risk.ReconciliationInterval)
		if _, err := k.scheduler.AddJob(spec, k.reconcileAllInstruments); err != nil {
			return fmt.Errorf("kernel: schedule reconciliation job: %w", err)
		}
	}
	k.scheduler.Start()

	k.logger.Info("kernel started", "environment", k.cfg.Environment, "dry_run", k.cfg.DryRun)
	return nil
}

// reconcileAllInstruments runs internal/execution's startup/reconnect
// reconciliation pass against every currently active instrument,
// scheduled on k.cfg.Risk.ReconciliationInterval via internal/clock's
// cron-backed Scheduler rather than the teacher's one-shot reconcile
// on reconnect (internal/exchange/ws.go had no periodic re-sync).
func (k *Kernel) reconcileAllInstruments() {
	k.slotsMu.Lock()
	ids := make([]model.InstrumentID, 0, len(k.slots))
	for id := range k.slots {
		ids = append(ids, id)
	}
	k.slotsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range ids {
		if err := k.execEngine.ReconcileInstrument(ctx, id); err != nil {
			k.logger.Error("reconciliation failed", "instrument", id, "error", err)
		}
	}
}

func (k *Kernel) spawn(fn func(ctx context.Context)) {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		fn(k.ctx)
	}()
}

func (k *Kernel) riskMgrRun(ctx context.Context) error {
	k.riskMgr.Run(ctx)
	return nil
}

// pumpMarketFeed feeds raw book deltas and trades into the data engine,
// the direct wire from adapters.WSFeed to internal/data that the
// teacher's dispatchMarketEvents performed by hand for Polymarket's
// book/price_change/trade frames.
func (k *Kernel) pumpMarketFeed(ctx context.Context) {
	deltas := k.marketFeed.BookDeltas()
	trades := k.marketFeed.Trades()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deltas:
			if !ok {
				return
			}
			k.dataEngine.OnBookDelta(d)
		case t, ok := <-trades:
			if !ok {
				return
			}
			k.dataEngine.OnTrade(t)
		}
	}
}

// pumpBacktestFills applies matching-engine fills back through
// internal/execution, keeping the same accepted-then-filled ordering a
// live venue round trip would produce instead of folding fills
// directly into SubmitOrder.
func (k *Kernel) pumpBacktestFills(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-k.backtest.Fills():
			if !ok {
				return
			}
			o, found := k.cache.Order(f.ClientOrderID)
			if !found {
				continue
			}
			if err := k.execEngine.ApplyFill(o, f.Price, f.Quantity, f.TradeID, f.Timestamp); err != nil {
				k.logger.Error("backtest: apply fill failed", "client_order_id", f.ClientOrderID, "error", err)
			}
		}
	}
}

// manageInstruments reacts to discovery results by starting a Maker
// strategy for every newly ranked instrument and stopping ones no
// longer returned, generalizing internal/engine.Engine.reconcileMarkets
// from scanner.Results() to discovery.Results().
func (k *Kernel) manageInstruments(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-k.discovery.Results():
			if !ok {
				return
			}
			k.reconcileInstruments(ctx, result)
		}
	}
}

func (k *Kernel) reconcileInstruments(ctx context.Context, result adapters.DiscoveryResult) {
	desired := make(map[model.InstrumentID]model.InstrumentDefinition, len(result.Instruments))
	for _, ranked := range result.Instruments {
		desired[ranked.Definition.ID] = ranked.Definition
	}

	k.slotsMu.Lock()
	var toStop []model.InstrumentID
	for id := range k.slots {
		if _, ok := desired[id]; !ok {
			toStop = append(toStop, id)
		}
	}
	k.slotsMu.Unlock()
	for _, id := range toStop {
		k.stopInstrument(id)
	}

	for id, def := range desired {
		if k.slotFor(id) == nil {
			k.startInstrument(ctx, def)
		}
	}
}

// startInstrument seeds a Maker strategy for def, generalizing
// internal/engine.Engine's per-market slot construction
// (book+inventory+maker) into a single runtime.NewMaker call wired
// against the kernel's shared data/execution/portfolio/risk engines.
func (k *Kernel) startInstrument(ctx context.Context, def model.InstrumentDefinition) {
	k.cache.AddInstrument(def)
	k.dataEngine.Subscribe(def.ID)
	if k.backtest != nil {
		k.backtest.AddInstrument(def)
	}
	if k.marketFeed != nil {
		_ = k.marketFeed.Subscribe([]string{def.ID.String()})
	}

	strategyID := model.StrategyID("maker-" + def.ID.String())
	maker := runtime.NewMaker(strategyID, def, model.AccountID(k.cfg.Account.ID), runtime.MakerConfig{
		Gamma:                   k.cfg.Strategy.Gamma,
		Sigma:                   k.cfg.Strategy.Sigma,
		K:                       k.cfg.Strategy.K,
		T:                       k.cfg.Strategy.T,
		DefaultSpreadBps:        k.cfg.Strategy.DefaultSpreadBps,
		OrderSizeUSD:            k.cfg.Strategy.OrderSizeUSD,
		RefreshInterval:         k.cfg.Strategy.RefreshInterval,
		StaleBookTimeout:        k.cfg.Strategy.StaleBookTimeout,
		FlowWindow:              k.cfg.Strategy.FlowWindow,
		FlowToxicityThreshold:   k.cfg.Strategy.FlowToxicityThreshold,
		FlowCooldownPeriod:      k.cfg.Strategy.FlowCooldownPeriod,
		FlowMaxSpreadMultiplier: k.cfg.Strategy.FlowMaxSpreadMultiplier,
	}, k.execEngine, k.dataEngine, k.pf, k.riskMgr, k.logger)

	slotCtx, cancel := context.WithCancel(ctx)
	k.slotsMu.Lock()
	k.slots[def.ID] = &instrumentSlot{definition: def, strategy: maker, cancel: cancel}
	k.slotsMu.Unlock()

	k.spawn(func(_ context.Context) {
		if err := maker.Run(slotCtx); err != nil && slotCtx.Err() == nil {
			k.logger.Error("strategy stopped with error", "instrument", def.ID, "error", err)
		}
	})
	k.logger.Info("instrument started", "instrument", def.ID)
}

func (k *Kernel) stopInstrument(id model.InstrumentID) {
	k.slotsMu.Lock()
	slot, ok := k.slots[id]
	if ok {
		delete(k.slots, id)
	}
	k.slotsMu.Unlock()
	if !ok {
		return
	}
	slot.cancel()
	k.dataEngine.Unsubscribe(id)
	k.logger.Info("instrument stopped", "instrument", id)
}

// Stop cancels every goroutine, flattens no positions (that's a
// strategy decision, not a kernel one) but cancels all resting orders
// per instrument as a safety net, and closes the cache, generalizing
// internal/engine.Engine.Stop's context-cancel/CancelAll/wg.Wait/
// store.Close sequence.
func (k *Kernel) Stop() {
	if k.cancel != nil {
		k.cancel()
	}
	k.scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	k.slotsMu.Lock()
	ids := make([]model.InstrumentID, 0, len(k.slots))
	for id := range k.slots {
		ids = append(ids, id)
	}
	k.slotsMu.Unlock()
	for _, id := range ids {
		k.execEngine.CancelAll(ctx, id)
	}

	k.wg.Wait()

	if k.obsServer != nil {
		_ = k.obsServer.Stop(ctx)
	}
	if k.catalog != nil {
		_ = k.catalog.Close()
	}
	if k.marketFeed != nil {
		_ = k.marketFeed.Close()
	}
	if k.userFeed != nil {
		_ = k.userFeed.Close()
	}
	if err := k.cache.Close(); err != nil {
		k.logger.Error("cache: close failed", "error", err)
	}

	instanceOwned.Store(false)
	k.logger.Info("kernel stopped")
}

// Snapshot builds the observability package's point-in-time view of
// every instrument slot, satisfying observability.SnapshotProvider and
// generalizing the teacher's api.MarketSnapshotProvider.
func (k *Kernel) Snapshot() observability.Snapshot {
	k.slotsMu.Lock()
	defer k.slotsMu.Unlock()

	snap := observability.Snapshot{
		TraderID:    k.cfg.TraderID,
		Environment: k.cfg.Environment,
		Risk:        k.riskMgr.GetRiskSnapshot(),
		Timestamp:   time.Now(),
	}
	for id, slot := range k.slots {
		pos, _ := k.pf.Position(id, model.AccountID(k.cfg.Account.ID))
		entry := observability.InstrumentSnapshot{
			InstrumentID: id.String(),
			Symbol:       slot.definition.ID.Symbol,
			State:        string(slot.strategy.State()),
		}
		if pos != nil {
			entry.NetQty = pos.NetQty.Float64()
			entry.AvgEntryPrice = pos.AvgEntryPrice.Float64()
			entry.RealizedPnL = pos.RealizedPnL.Float64()
			entry.UnrealizedPnL = pos.UnrealizedPnL.Float64()
		}
		snap.Instruments = append(snap.Instruments, entry)
	}
	return snap
}
