package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"quantcore/internal/config"
	"quantcore/internal/models"
)

// StreamFeed is the websocket candle-feed collaborator client. It
// delivers only closed candles; the decision core never sees a partial
// bar. Reconnection is bounded by the configured retry budget. When the
// budget is exhausted the candle channel closes and the caller decides
// what to do.
type StreamFeed struct {
	cfg config.FeedConfig
}

func NewStreamFeed(cfg config.FeedConfig) *StreamFeed {
	return &StreamFeed{cfg: cfg}
}

// Subscribe dials the kline stream for one (symbol, timeframe) pair. The
// first dial failure is returned synchronously; later drops go through
// the reconnect policy.
func (f *StreamFeed) Subscribe(ctx context.Context, sub models.CandleSubscription) (<-chan models.Candle, error) {
	conn, err := f.dial(ctx, sub)
	if err != nil {
		return nil, err
	}

	out := make(chan models.Candle, 1)
	go f.readLoop(ctx, conn, sub, out)
	return out, nil
}

func (f *StreamFeed) dial(ctx context.Context, sub models.CandleSubscription) (*websocket.Conn, error) {
	endpoint := fmt.Sprintf("%s%s@kline_%s", f.cfg.URL, strings.ToLower(sub.Symbol), sub.Timeframe)
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("feed dial: %w", err)
	}
	conn.SetReadLimit(f.cfg.ReadLimitBytes)
	return conn, nil
}

func (f *StreamFeed) readLoop(ctx context.Context, conn *websocket.Conn, sub models.CandleSubscription, out chan<- models.Candle) {
	defer close(out)
	defer func() { conn.Close(websocket.StatusNormalClosure, "subscription ended") }()

	attempts := 0
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			attempts++
			if attempts > f.cfg.MaxReconnects {
				log.WithField("symbol", sub.Symbol).
					Error("feed: reconnect budget exhausted, giving up")
				return
			}

			// Exponential backoff before the redial.
			backoff := f.cfg.BackoffBase * time.Duration(1<<(attempts-1))
			log.WithFields(log.Fields{
				"symbol":  sub.Symbol,
				"attempt": attempts,
				"backoff": backoff,
			}).Warn("feed: connection dropped, reconnecting")

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			next, derr := f.dial(ctx, sub)
			if derr != nil {
				log.WithFields(log.Fields{"symbol": sub.Symbol, "err": derr}).
					Error("feed: reconnect failed")
				continue
			}
			conn.Close(websocket.StatusNormalClosure, "replaced")
			conn = next
			attempts = 0
			continue
		}

		candle, closed, perr := parseKlineMessage(msg)
		if perr != nil {
			log.WithFields(log.Fields{"symbol": sub.Symbol, "err": perr}).
				Warn("feed: dropping malformed message")
			continue
		}
		if !closed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case out <- candle:
		}
	}
}

// Combined-stream kline payload. Prices arrive as strings.
type klineMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Event string `json:"e"`
		Kline struct {
			OpenTime    int64  `json:"t"`
			CloseTime   int64  `json:"T"`
			Symbol      string `json:"s"`
			Interval    string `json:"i"`
			Open        string `json:"o"`
			Close       string `json:"c"`
			High        string `json:"h"`
			Low         string `json:"l"`
			Volume      string `json:"v"`
			TradeCount  int    `json:"n"`
			Closed      bool   `json:"x"`
			QuoteVolume string `json:"q"`
		} `json:"k"`
	} `json:"data"`
}

func parseKlineMessage(msg []byte) (models.Candle, bool, error) {
	var km klineMessage
	if err := json.Unmarshal(msg, &km); err != nil {
		return models.Candle{}, false, err
	}
	if km.Data.Event != "kline" {
		return models.Candle{}, false, fmt.Errorf("unexpected event %q", km.Data.Event)
	}

	k := km.Data.Kline
	candle := models.Candle{
		Symbol:     k.Symbol,
		Timeframe:  k.Interval,
		OpenTime:   time.UnixMilli(k.OpenTime).UTC(),
		CloseTime:  time.UnixMilli(k.CloseTime).UTC(),
		TradeCount: k.TradeCount,
	}

	var err error
	if candle.Open, err = strconv.ParseFloat(k.Open, 64); err != nil {
		return models.Candle{}, false, err
	}
	if candle.High, err = strconv.ParseFloat(k.High, 64); err != nil {
		return models.Candle{}, false, err
	}
	if candle.Low, err = strconv.ParseFloat(k.Low, 64); err != nil {
		return models.Candle{}, false, err
	}
	if candle.Close, err = strconv.ParseFloat(k.Close, 64); err != nil {
		return models.Candle{}, false, err
	}
	if candle.Volume, err = strconv.ParseFloat(k.Volume, 64); err != nil {
		return models.Candle{}, false, err
	}
	if candle.QuoteVolume, err = strconv.ParseFloat(k.QuoteVolume, 64); err != nil {
		return models.Candle{}, false, err
	}
	return candle, k.Closed, nil
}
