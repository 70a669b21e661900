package kis

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain/errs"
	"github.com/tyeom/zeroquant/internal/metrics"
)

// Realtime channel transaction ids.
const (
	trTradeKR     = "H0STCNT0" // domestic trade ticks
	trOrderbookKR = "H0STASP0" // domestic orderbook
)

const (
	heartbeatInterval = 30 * time.Second
	reconnectDelay    = 5 * time.Second
	maxReconnects     = 3
)

// TradeTick is one realtime trade print.
type TradeTick struct {
	Symbol string
	Price  decimal.Decimal
	Volume decimal.Decimal
	At     time.Time
}

// OrderbookSnapshot is the top of book from the orderbook channel.
type OrderbookSnapshot struct {
	Symbol   string
	BestAsk  decimal.Decimal
	BestBid  decimal.Decimal
	At       time.Time
}

// StreamHandler receives parsed realtime events.
type StreamHandler interface {
	OnTrade(TradeTick)
	OnOrderbook(OrderbookSnapshot)
}

// Stream is one websocket session subscribed to trade and orderbook
// channels. It reconnects with bounded retries and re-sends its
// subscriptions after a reconnect.
type Stream struct {
	client  *Client
	handler StreamHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols []string
	closed  bool
}

// NewStream builds a realtime stream for the given symbols.
func NewStream(client *Client, handler StreamHandler, symbols []string) *Stream {
	return &Stream{client: client, handler: handler, symbols: symbols}
}

// Run connects and pumps messages until ctx is cancelled or the
// reconnect budget is exhausted.
func (s *Stream) Run(ctx context.Context) error {
	reconnects := 0
	for {
		err := s.connectAndPump(ctx)
		metrics.WebsocketConnected.Set(0)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Warn().Err(err).Int("reconnects", reconnects).Msg("kis websocket dropped")
		}
		reconnects++
		if reconnects > maxReconnects {
			return errs.Network(err, "kis websocket exhausted %d reconnects", maxReconnects)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Close shuts the session down.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Stream) connectAndPump(ctx context.Context) error {
	approvalKey, err := s.client.ApprovalKey(ctx)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.client.cfg.WSBaseURL+"/tryitout/H0STCNT0", nil)
	if err != nil {
		return errs.Network(err, "dial kis websocket")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	// Subscriptions are re-sent on every (re)connect.
	for _, symbol := range s.symbols {
		for _, trID := range []string{trTradeKR, trOrderbookKR} {
			if err := conn.WriteJSON(subscribeMessage(approvalKey, trID, symbol)); err != nil {
				return errs.Network(err, "subscribe %s %s", trID, symbol)
			}
		}
	}
	metrics.WebsocketConnected.Set(1)
	log.Info().Int("symbols", len(s.symbols)).Msg("kis websocket subscribed")

	// Heartbeat keeps the session alive between market events.
	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				err := conn.WriteMessage(websocket.PingMessage, nil)
				s.mu.Unlock()
				if err != nil {
					return
				}
			case <-heartbeatDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(heartbeatInterval * 3))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return errs.Network(err, "read kis websocket")
		}
		s.dispatch(string(payload))
	}
}

// subscribeMessage builds the approval-key handshake for one channel.
func subscribeMessage(approvalKey, trID, symbol string) map[string]any {
	return map[string]any{
		"header": map[string]string{
			"approval_key": approvalKey,
			"custtype":     "P",
			"tr_type":      "1",
			"content-type": "utf-8",
		},
		"body": map[string]any{
			"input": map[string]string{
				"tr_id":  trID,
				"tr_key": symbol,
			},
		},
	}
}

// dispatch routes one raw frame. Data frames are pipe-delimited
// <flag>|<tr_id>|<seq>|<payload>; anything with fewer than four
// segments is a control/heartbeat JSON message.
func (s *Stream) dispatch(text string) {
	parts := strings.Split(text, "|")
	if len(parts) < 4 {
		s.handleControl(text)
		return
	}

	trID, payload := parts[1], parts[3]
	switch trID {
	case trTradeKR:
		if tick, ok := parseTradeTick(payload); ok && s.handler != nil {
			s.handler.OnTrade(tick)
		}
	case trOrderbookKR:
		if book, ok := parseOrderbook(payload); ok && s.handler != nil {
			s.handler.OnOrderbook(book)
		}
	default:
		log.Debug().Str("tr_id", trID).Msg("unhandled realtime channel")
	}
}

func (s *Stream) handleControl(text string) {
	var msg struct {
		Header struct {
			TrID string `json:"tr_id"`
		} `json:"header"`
		Body struct {
			Message string `json:"msg1"`
		} `json:"body"`
	}
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		log.Debug().Str("frame", text).Msg("unparseable control frame")
		return
	}
	if msg.Header.TrID == "PINGPONG" {
		return
	}
	log.Debug().Str("tr_id", msg.Header.TrID).Str("msg", msg.Body.Message).
		Msg("kis control frame")
}

// Payload fields are caret-delimited with fixed positions per tr_id.
const (
	tickFieldSymbol = 0
	tickFieldTime   = 1
	tickFieldPrice  = 2
	tickFieldVolume = 12

	bookFieldSymbol  = 0
	bookFieldBestAsk = 3
	bookFieldBestBid = 13
)

func parseTradeTick(payload string) (TradeTick, bool) {
	fields := strings.Split(payload, "^")
	if len(fields) <= tickFieldVolume {
		return TradeTick{}, false
	}
	price, err := decimal.NewFromString(fields[tickFieldPrice])
	if err != nil {
		return TradeTick{}, false
	}
	volume, err := decimal.NewFromString(fields[tickFieldVolume])
	if err != nil {
		return TradeTick{}, false
	}
	return TradeTick{
		Symbol: fields[tickFieldSymbol],
		Price:  price,
		Volume: volume,
		At:     time.Now().UTC(),
	}, true
}

func parseOrderbook(payload string) (OrderbookSnapshot, bool) {
	fields := strings.Split(payload, "^")
	if len(fields) <= bookFieldBestBid {
		return OrderbookSnapshot{}, false
	}
	ask, err := decimal.NewFromString(fields[bookFieldBestAsk])
	if err != nil {
		return OrderbookSnapshot{}, false
	}
	bid, err := decimal.NewFromString(fields[bookFieldBestBid])
	if err != nil {
		return OrderbookSnapshot{}, false
	}
	return OrderbookSnapshot{
		Symbol:  fields[bookFieldSymbol],
		BestAsk: ask,
		BestBid: bid,
		At:      time.Now().UTC(),
	}, true
}
