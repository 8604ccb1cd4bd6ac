package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"quantcore/internal/models"
)

// TimescaleDB stores candles in a hypertable and bulk-imports them with
// the pgx CopyFrom protocol. Every other record type reuses the plain
// Postgres statements; Timescale is wire-compatible.
type TimescaleDB struct {
	*PostgresStore
	db *sql.DB
}

func NewTimescaleDB(dsn string) (*TimescaleDB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("timescale: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("timescale: %w", err)
	}
	return &TimescaleDB{PostgresStore: &PostgresStore{db: db}, db: db}, nil
}

// Init creates the base schema and converts the candle table into a
// hypertable partitioned on open_time.
func (ts *TimescaleDB) Init(ctx context.Context) error {
	if err := ts.PostgresStore.Init(ctx); err != nil {
		return err
	}

	hypertable := `
	DO $$
	BEGIN
		IF NOT EXISTS (SELECT * FROM timescaledb_information.hypertables WHERE hypertable_name = 'candles') THEN
			PERFORM create_hypertable('candles', 'open_time', migrate_data => TRUE);
		END IF;
	END $$;`
	if _, err := ts.db.ExecContext(ctx, hypertable); err != nil {
		return fmt.Errorf("timescale init: %w", err)
	}
	return nil
}

// SaveCandles streams the batch through the binary CopyFrom protocol.
// Bulk import has no conflict handling; re-importing a range requires
// deleting it first.
func (ts *TimescaleDB) SaveCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	start := time.Now()

	conn, err := ts.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		pgxConn := driverConn.(*stdlib.Conn).Conn()
		rows, err := pgxConn.CopyFrom(ctx,
			pgx.Identifier{"candles"},
			[]string{"symbol", "timeframe", "open_time", "open", "high", "low", "close",
				"volume", "close_time", "quote_volume", "trade_count"},
			&candleCopySource{candles: candles, idx: -1},
		)
		if err != nil {
			return fmt.Errorf("timescale copy: %w", err)
		}
		if rows != int64(len(candles)) {
			return fmt.Errorf("timescale copy: wrote %d of %d rows", rows, len(candles))
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"rows": len(candles), "took": time.Since(start)}).
		Debug("timescale: candle batch imported")
	return nil
}

// candleCopySource adapts a candle slice to the pgx CopyFromSource
// interface.
type candleCopySource struct {
	candles []models.Candle
	idx     int
}

func (cs *candleCopySource) Next() bool {
	cs.idx++
	return cs.idx < len(cs.candles)
}

func (cs *candleCopySource) Values() ([]any, error) {
	if cs.idx < 0 || cs.idx >= len(cs.candles) {
		return nil, errors.New("no current candle")
	}
	c := cs.candles[cs.idx]

	var (
		symbol      = pgtype.Text{}
		timeframe   = pgtype.Text{}
		openTime    = pgtype.Timestamptz{}
		open        = pgtype.Float8{}
		high        = pgtype.Float8{}
		low         = pgtype.Float8{}
		cloze       = pgtype.Float8{}
		volume      = pgtype.Float8{}
		closeTime   = pgtype.Timestamptz{}
		quoteVolume = pgtype.Float8{}
		tradeCount  = pgtype.Int4{}
	)

	if err := symbol.Scan(c.Symbol); err != nil {
		return nil, err
	}
	if err := timeframe.Scan(c.Timeframe); err != nil {
		return nil, err
	}
	if err := openTime.Scan(c.OpenTime); err != nil {
		return nil, err
	}
	if err := open.Scan(c.Open); err != nil {
		return nil, err
	}
	if err := high.Scan(c.High); err != nil {
		return nil, err
	}
	if err := low.Scan(c.Low); err != nil {
		return nil, err
	}
	if err := cloze.Scan(c.Close); err != nil {
		return nil, err
	}
	if err := volume.Scan(c.Volume); err != nil {
		return nil, err
	}
	if err := closeTime.Scan(c.CloseTime); err != nil {
		return nil, err
	}
	if err := quoteVolume.Scan(c.QuoteVolume); err != nil {
		return nil, err
	}
	if err := tradeCount.Scan(int64(c.TradeCount)); err != nil {
		return nil, err
	}

	return []any{
		symbol, timeframe, openTime, open, high, low, cloze,
		volume, closeTime, quoteVolume, tradeCount,
	}, nil
}

func (cs *candleCopySource) Err() error { return nil }
