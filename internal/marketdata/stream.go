package marketdata

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/powertraderai/powertrader/pkg/models"
)

const defaultStreamURL = "wss://stream.binance.com:9443/stream"

// Stream maintains a websocket subscription to Binance combined book-ticker
// streams and fans quotes out to subscribers, writing each quote into the
// cache as it arrives.
type Stream struct {
	url     string
	symbols []string
	cache   *Cache
	logger  *zap.Logger

	mu   sync.Mutex
	subs map[chan models.MarketData]struct{}

	stop chan struct{}
	done chan struct{}
}

func NewStream(url string, symbols []string, cache *Cache, logger *zap.Logger) *Stream {
	if url == "" {
		url = defaultStreamURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		url:     url,
		symbols: symbols,
		cache:   cache,
		logger:  logger.Named("stream"),
		subs:    make(map[chan models.MarketData]struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe returns a channel that receives every quote the stream parses.
// Slow subscribers drop quotes rather than stall the reader.
func (s *Stream) Subscribe() (<-chan models.MarketData, func()) {
	ch := make(chan models.MarketData, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Start runs the read loop until ctx is cancelled or Stop is called,
// reconnecting with backoff on failure.
func (s *Stream) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		backoff := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			default:
			}

			if err := s.run(ctx); err != nil {
				s.logger.Warn("stream disconnected", zap.Error(err))
			}

			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
}

// Stop terminates the read loop and waits for it to exit.
func (s *Stream) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

func streamName(symbol string) string {
	pair := strings.ReplaceAll(strings.ReplaceAll(symbol, "-USD", "USDT"), "-", "")
	return strings.ToLower(pair) + "@bookTicker"
}

type combinedMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		Ask    string `json:"a"`
	} `json:"data"`
}

func (s *Stream) run(ctx context.Context) error {
	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, streamName(sym))
	}
	url := s.url + "?streams=" + strings.Join(streams, "/")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.logger.Info("stream connected", zap.Int("symbols", len(s.symbols)))

	// Unblock ReadMessage when the caller stops the stream.
	go func() {
		select {
		case <-ctx.Done():
		case <-s.stop:
		}
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg combinedMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Data.Symbol == "" {
			continue
		}

		bid, err1 := decimal.NewFromString(msg.Data.Bid)
		ask, err2 := decimal.NewFromString(msg.Data.Ask)
		if err1 != nil || err2 != nil {
			continue
		}

		md := models.MarketData{
			Symbol:    fromVenueSymbol(msg.Data.Symbol),
			Price:     bid.Add(ask).Div(decimal.NewFromInt(2)),
			Bid:       bid,
			Ask:       ask,
			Exchange:  "binance",
			Timestamp: time.Now().UTC(),
		}
		if s.cache != nil {
			s.cache.Put(ctx, md)
		}
		s.broadcast(md)
	}
}

func (s *Stream) broadcast(md models.MarketData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- md:
		default:
		}
	}
}

// fromVenueSymbol converts BTCUSDT back to BTC-USD.
func fromVenueSymbol(pair string) string {
	if strings.HasSuffix(pair, "USDT") {
		return strings.TrimSuffix(pair, "USDT") + "-USD"
	}
	if strings.HasSuffix(pair, "USD") {
		return strings.TrimSuffix(pair, "USD") + "-USD"
	}
	return pair
}
