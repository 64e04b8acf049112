package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nautilus-trader/nautilus-core-go/internal/execution"
	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// RESTConfig configures a RESTClient, generalizing the teacher's
// APIConfig.CLOBBaseURL into a venue-agnostic set of base URLs.
type RESTConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	DryRun     bool
}

// RESTClient is the venue-facing REST boundary, generalizing the
// teacher's exchange.Client (internal/exchange/client.go) from a
// single hardcoded Polymarket CLOB integration to an
// execution.Client + data.HistoricalProvider implementation any
// order-submission/order-book REST venue can back.
type RESTClient struct {
	http   *resty.Client
	auth   AuthProvider
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewRESTClient creates a REST client with retry and rate limiting,
// generalizing the teacher's NewClient to take an AuthProvider and a
// venue base URL instead of hardcoding Polymarket's.
func NewRESTClient(cfg RESTConfig, auth AuthProvider, rl *RateLimiter, logger *slog.Logger) *RESTClient {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &RESTClient{
		http:   httpClient,
		auth:   auth,
		rl:     rl,
		dryRun: cfg.DryRun,
		logger: logger.With("component", "adapters.rest"),
	}
}

// venueOrderRequest is the wire shape sent to the venue for a new
// order, the generalized form of the teacher's types.OrderPayload
// stripped of on-chain signing fields (no Maker/Signer/SignatureType —
// those belonged to Polymarket's EIP-712 order envelope, which
// internal/adapters drops per the auth package's scope decision).
type venueOrderRequest struct {
	ClientOrderID string `json:"client_order_id"`
	InstrumentID  string `json:"instrument_id"`
	Side          string `json:"side"`
	OrderType     string `json:"order_type"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	TimeInForce   string `json:"time_in_force"`
}

type venueOrderResponse struct {
	Success      bool   `json:"success"`
	VenueOrderID string `json:"order_id"`
	Status       string `json:"status"`
	Error        string `json:"error_message"`
}

// SubmitOrder places a single order at the venue, implementing
// execution.Client. It generalizes the teacher's PostOrders batch path
// (internal/exchange/client.go) to a one-order-at-a-time call, since
// spec.md's execution engine submits independently per strategy
// decision rather than batching across markets.
func (c *RESTClient) SubmitOrder(ctx context.Context, o *model.Order) (model.VenueOrderID, error) {
	if c.dryRun {
		c.logger.Info("dry-run: would submit order", "client_order_id", o.ClientOrderID)
		return model.VenueOrderID("dry-run-" + string(o.ClientOrderID)), nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	req := venueOrderRequest{
		ClientOrderID: string(o.ClientOrderID),
		InstrumentID:  o.InstrumentID.String(),
		Side:          string(o.Side),
		OrderType:     string(o.Type),
		Price:         o.Price.String(),
		Quantity:      o.Quantity.String(),
		TimeInForce:   string(o.TimeInForce),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("adapters: marshal order: %w", err)
	}
	headers, err := c.auth.Headers(http.MethodPost, "/orders", string(body))
	if err != nil {
		return "", fmt.Errorf("adapters: sign order request: %w", err)
	}

	var result venueOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return "", fmt.Errorf("adapters: submit order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || !result.Success {
		return "", fmt.Errorf("adapters: submit order: status %d: %s", resp.StatusCode(), result.Error)
	}
	return model.VenueOrderID(result.VenueOrderID), nil
}

// CancelOrder cancels a single working order, implementing
// execution.Client. Generalizes the teacher's CancelOrders/CancelAll
// pair (which operated on ID slices and whole markets) to a per-order
// call, since the execution engine already batches via CancelAll at
// the strategy layer.
func (c *RESTClient) CancelOrder(ctx context.Context, instrumentID model.InstrumentID, venueOrderID model.VenueOrderID) error {
	if c.dryRun {
		c.logger.Info("dry-run: would cancel order", "venue_order_id", venueOrderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	path := fmt.Sprintf("/orders/%s", venueOrderID)
	headers, err := c.auth.Headers(http.MethodDelete, path, "")
	if err != nil {
		return fmt.Errorf("adapters: sign cancel request: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete(path)
	if err != nil {
		return fmt.Errorf("adapters: cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("adapters: cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type venueAmendRequest struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// ModifyOrder amends a working order's price/quantity at the venue,
// implementing execution.Client. Mirrors CancelOrder's per-order REST
// shape since the venue has no batch amend endpoint in this pack.
func (c *RESTClient) ModifyOrder(ctx context.Context, instrumentID model.InstrumentID, venueOrderID model.VenueOrderID, price model.Price, qty model.Quantity) error {
	if c.dryRun {
		c.logger.Info("dry-run: would modify order", "venue_order_id", venueOrderID)
		return nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}

	req := venueAmendRequest{Price: price.String(), Quantity: qty.String()}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("adapters: marshal amend: %w", err)
	}
	path := fmt.Sprintf("/orders/%s", venueOrderID)
	headers, err := c.auth.Headers(http.MethodPatch, path, string(body))
	if err != nil {
		return fmt.Errorf("adapters: sign amend request: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		Patch(path)
	if err != nil {
		return fmt.Errorf("adapters: modify order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("adapters: modify order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type venuePosition struct {
	InstrumentID  string `json:"instrument_id"`
	NetQty        string `json:"net_quantity"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

// Positions fetches the venue's reported net position for an
// instrument, implementing execution.Client for reconciliation step 3
// (internal/execution/reconcile.go), the generalized form of the
// teacher's balance-checking resty calls (internal/risk manager
// polling wallet balances before approving an order).
func (c *RESTClient) Positions(ctx context.Context, instrumentID model.InstrumentID) (execution.VenuePositionSnapshot, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return execution.VenuePositionSnapshot{}, err
	}

	headers, err := c.auth.Headers(http.MethodGet, "/positions", "")
	if err != nil {
		return execution.VenuePositionSnapshot{}, fmt.Errorf("adapters: sign positions request: %w", err)
	}

	var pos venuePosition
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("instrument_id", instrumentID.String()).
		SetResult(&pos).
		Get("/positions")
	if err != nil {
		return execution.VenuePositionSnapshot{}, fmt.Errorf("adapters: positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return execution.VenuePositionSnapshot{}, fmt.Errorf("adapters: positions: status %d: %s", resp.StatusCode(), resp.String())
	}

	netQty, err := model.ParseQuantity(pos.NetQty)
	if err != nil {
		netQty = model.NewQuantityFromFloat(0, 0)
	}
	avgPrice, err := model.ParsePrice(pos.AvgEntryPrice)
	if err != nil {
		avgPrice = model.NewPriceFromFloat(0, 0)
	}
	return execution.VenuePositionSnapshot{
		InstrumentID:  instrumentID,
		NetQty:        netQty,
		AvgEntryPrice: avgPrice,
	}, nil
}

type venueOpenOrder struct {
	VenueOrderID string `json:"order_id"`
	InstrumentID string `json:"instrument_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalQty  string `json:"original_size"`
	FilledQty    string `json:"size_matched"`
	Status       string `json:"status"`
}

// OpenOrders lists working orders for an instrument, implementing
// execution.Client for startup/reconnect reconciliation
// (internal/execution/reconcile.go), the generalized form of the
// teacher's types.OpenOrder polling.
func (c *RESTClient) OpenOrders(ctx context.Context, instrumentID model.InstrumentID) ([]execution.VenueOrderSnapshot, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/orders"
	headers, err := c.auth.Headers(http.MethodGet, path, "")
	if err != nil {
		return nil, fmt.Errorf("adapters: sign open orders request: %w", err)
	}

	var orders []venueOpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("instrument_id", instrumentID.String()).
		SetResult(&orders).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("adapters: open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("adapters: open orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	snapshots := make([]execution.VenueOrderSnapshot, 0, len(orders))
	for _, o := range orders {
		price, err := model.ParsePrice(o.Price)
		if err != nil {
			c.logger.Warn("adapters: skip open order with unparseable price", "venue_order_id", o.VenueOrderID, "error", err)
			continue
		}
		origQty, err := model.ParseQuantity(o.OriginalQty)
		if err != nil {
			continue
		}
		filledQty, err := model.ParseQuantity(o.FilledQty)
		if err != nil {
			continue
		}
		side := model.OrderSideBuy
		if o.Side == string(model.OrderSideSell) {
			side = model.OrderSideSell
		}
		snapshots = append(snapshots, execution.VenueOrderSnapshot{
			VenueOrderID: model.VenueOrderID(o.VenueOrderID),
			InstrumentID: instrumentID,
			Side:         side,
			Price:        price,
			OriginalQty:  origQty,
			FilledQty:    filledQty,
			Status:       model.OrderStatus(o.Status),
		})
	}
	return snapshots, nil
}

type venueBar struct {
	Timestamp int64  `json:"t"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
}

// RequestBars serves a historical bar query, implementing
// data.HistoricalProvider. It generalizes the teacher's Scanner's
// Gamma-API resty polling (internal/market/scanner.go fetchMarkets) to
// a single request against a historical-candles endpoint; results are
// not paged.
func (c *RESTClient) RequestBars(ctx context.Context, barType model.BarType, from, to time.Time) ([]model.Bar, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var bars []venueBar
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"instrument_id": barType.InstrumentID.String(),
			"resolution":    barType.Spec.String(),
			"from":          strconvFormatUnix(from),
			"to":            strconvFormatUnix(to),
		}).
		SetResult(&bars).
		Get("/candles")
	if err != nil {
		return nil, fmt.Errorf("adapters: request bars: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("adapters: request bars: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		open, err := model.ParsePrice(b.Open)
		if err != nil {
			continue
		}
		high, err := model.ParsePrice(b.High)
		if err != nil {
			continue
		}
		low, err := model.ParsePrice(b.Low)
		if err != nil {
			continue
		}
		closePrice, err := model.ParsePrice(b.Close)
		if err != nil {
			continue
		}
		volume, err := model.ParseQuantity(b.Volume)
		if err != nil {
			continue
		}
		out = append(out, model.Bar{
			Type:      barType,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			Timestamp: time.Unix(b.Timestamp, 0).UTC(),
		})
	}
	return out, nil
}

func strconvFormatUnix(t time.Time) string {
	return fmt.Sprintf("%d", t.Unix())
}
