package kis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTradeTick(t *testing.T) {
	fields := make([]string, 15)
	fields[tickFieldSymbol] = "005930"
	fields[tickFieldTime] = "093015"
	fields[tickFieldPrice] = "71500"
	fields[tickFieldVolume] = "1200"

	tick, ok := parseTradeTick(strings.Join(fields, "^"))
	require.True(t, ok)
	assert.Equal(t, "005930", tick.Symbol)
	assert.Equal(t, "71500", tick.Price.String())
	assert.Equal(t, "1200", tick.Volume.String())
}

func TestParseTradeTickShortPayload(t *testing.T) {
	_, ok := parseTradeTick("005930^093015^71500")
	assert.False(t, ok)
}

func TestParseOrderbook(t *testing.T) {
	fields := make([]string, 20)
	fields[bookFieldSymbol] = "005930"
	fields[bookFieldBestAsk] = "71600"
	fields[bookFieldBestBid] = "71500"

	book, ok := parseOrderbook(strings.Join(fields, "^"))
	require.True(t, ok)
	assert.Equal(t, "71600", book.BestAsk.String())
	assert.Equal(t, "71500", book.BestBid.String())
}

type recordingHandler struct {
	trades []TradeTick
	books  []OrderbookSnapshot
}

func (h *recordingHandler) OnTrade(t TradeTick)            { h.trades = append(h.trades, t) }
func (h *recordingHandler) OnOrderbook(b OrderbookSnapshot) { h.books = append(h.books, b) }

func TestDispatchRoutesByTrID(t *testing.T) {
	handler := &recordingHandler{}
	s := &Stream{handler: handler}

	fields := make([]string, 15)
	fields[tickFieldSymbol] = "005930"
	fields[tickFieldPrice] = "70000"
	fields[tickFieldVolume] = "10"
	s.dispatch("0|" + trTradeKR + "|001|" + strings.Join(fields, "^"))

	require.Len(t, handler.trades, 1)
	assert.Equal(t, "005930", handler.trades[0].Symbol)
}

func TestDispatchControlFrame(t *testing.T) {
	handler := &recordingHandler{}
	s := &Stream{handler: handler}

	// Fewer than four pipe segments: heartbeat-style JSON.
	s.dispatch(`{"header":{"tr_id":"PINGPONG"},"body":{"msg1":"ping"}}`)

	assert.Empty(t, handler.trades)
	assert.Empty(t, handler.books)
}
