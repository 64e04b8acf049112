package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// Catalog is a Postgres-backed historical data store, implementing
// data.HistoricalProvider alongside (and typically layered in front
// of) RESTClient's live venue queries. Nothing in the teacher repo
// persisted historical market data — internal/store only persisted
// live position state — so this package is grounded on the rest of
// the example corpus's sqlx+lib/pq usage for a durable, queryable bar
// archive behind spec.md §6's CatalogBackend boundary.
type Catalog struct {
	db *sqlx.DB
}

type barRow struct {
	InstrumentID string    `db:"instrument_id"`
	Step         int       `db:"step"`
	Unit         string    `db:"unit"`
	PriceType    string    `db:"price_type"`
	Internal     bool      `db:"internal"`
	Open         string    `db:"open"`
	High         string    `db:"high"`
	Low          string    `db:"low"`
	Close        string    `db:"close"`
	Volume       string    `db:"volume"`
	Timestamp    time.Time `db:"ts"`
}

// OpenCatalog connects to Postgres and ensures the bars table exists.
func OpenCatalog(ctx context.Context, dsn string) (*Catalog, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("adapters: connect catalog: %w", err)
	}
	c := &Catalog{db: db}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bars (
			instrument_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			unit TEXT NOT NULL,
			price_type TEXT NOT NULL,
			internal BOOLEAN NOT NULL,
			open TEXT NOT NULL,
			high TEXT NOT NULL,
			low TEXT NOT NULL,
			close TEXT NOT NULL,
			volume TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (instrument_id, step, unit, price_type, internal, ts)
		)`)
	if err != nil {
		return fmt.Errorf("adapters: migrate catalog: %w", err)
	}
	return nil
}

// StoreBar persists a closed bar, called by internal/data's
// TimeBarAggregator consumers that want durable history rather than
// in-memory-only aggregation.
func (c *Catalog) StoreBar(ctx context.Context, bar model.Bar) error {
	_, err := c.db.NamedExecContext(ctx, `
		INSERT INTO bars (instrument_id, step, unit, price_type, internal, open, high, low, close, volume, ts)
		VALUES (:instrument_id, :step, :unit, :price_type, :internal, :open, :high, :low, :close, :volume, :ts)
		ON CONFLICT (instrument_id, step, unit, price_type, internal, ts) DO NOTHING`,
		toBarRow(bar))
	if err != nil {
		return fmt.Errorf("adapters: store bar: %w", err)
	}
	return nil
}

// RequestBars implements data.HistoricalProvider by serving a
// time-bounded bar range from Postgres.
func (c *Catalog) RequestBars(ctx context.Context, barType model.BarType, from, to time.Time) ([]model.Bar, error) {
	var rows []barRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT instrument_id, step, unit, price_type, internal, open, high, low, close, volume, ts
		FROM bars
		WHERE instrument_id = $1 AND step = $2 AND unit = $3 AND price_type = $4 AND internal = $5
		  AND ts >= $6 AND ts <= $7
		ORDER BY ts ASC`,
		barType.InstrumentID.String(), barType.Spec.Step, barType.Spec.Unit, string(barType.Spec.Price), barType.Internal, from, to)
	if err != nil {
		return nil, fmt.Errorf("adapters: query bars: %w", err)
	}

	bars := make([]model.Bar, 0, len(rows))
	for _, r := range rows {
		bar, err := fromBarRow(r, barType)
		if err != nil {
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error { return c.db.Close() }

func toBarRow(bar model.Bar) barRow {
	return barRow{
		InstrumentID: bar.Type.InstrumentID.String(),
		Step:         bar.Type.Spec.Step,
		Unit:         bar.Type.Spec.Unit,
		PriceType:    string(bar.Type.Spec.Price),
		Internal:     bar.Type.Internal,
		Open:         bar.Open.String(),
		High:         bar.High.String(),
		Low:          bar.Low.String(),
		Close:        bar.Close.String(),
		Volume:       bar.Volume.String(),
		Timestamp:    bar.Timestamp,
	}
}

func fromBarRow(r barRow, barType model.BarType) (model.Bar, error) {
	open, err := model.ParsePrice(r.Open)
	if err != nil {
		return model.Bar{}, err
	}
	high, err := model.ParsePrice(r.High)
	if err != nil {
		return model.Bar{}, err
	}
	low, err := model.ParsePrice(r.Low)
	if err != nil {
		return model.Bar{}, err
	}
	closePrice, err := model.ParsePrice(r.Close)
	if err != nil {
		return model.Bar{}, err
	}
	volume, err := model.ParseQuantity(r.Volume)
	if err != nil {
		return model.Bar{}, err
	}
	return model.Bar{
		Type:      barType,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Timestamp: r.Timestamp,
	}, nil
}
