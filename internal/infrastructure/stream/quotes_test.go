package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/hedgebot/internal/domain"
)

type recordingHandler struct {
	quotes []domain.Quote
}

func (h *recordingHandler) OnQuote(q domain.Quote) {
	h.quotes = append(h.quotes, q)
}

func TestDispatchParsesQuote(t *testing.T) {
	s := NewQuoteStream(Config{URL: "ws://example"})
	h := &recordingHandler{}
	s.OnQuote(h)

	ts := time.Date(2025, 5, 2, 14, 30, 0, 0, time.UTC)
	s.dispatch([]byte(`{"type":"quote","symbol":"AAPL","bid":199.95,"ask":200.05,"timestamp":` +
		"1746196200000" + `}`))

	require.Len(t, h.quotes, 1)
	q := h.quotes[0]
	assert.Equal(t, "AAPL", q.InstrumentID)
	assert.InDelta(t, 199.95, q.Bid, 1e-9)
	assert.InDelta(t, 200.05, q.Ask, 1e-9)
	assert.True(t, q.Timestamp.Equal(ts))
}

func TestDispatchIgnoresNonQuoteMessages(t *testing.T) {
	s := NewQuoteStream(Config{URL: "ws://example"})
	h := &recordingHandler{}
	s.OnQuote(h)

	s.dispatch([]byte(`{"type":"heartbeat"}`))
	s.dispatch([]byte(`not json at all`))

	assert.Empty(t, h.quotes)
}

func TestSubscribeAccumulatesSymbols(t *testing.T) {
	s := NewQuoteStream(Config{URL: "ws://example"})
	s.Subscribe("AAPL")
	s.Subscribe("AAPL250516C00200000", "AAPL250516P00200000")
	assert.Equal(t, []string{"AAPL", "AAPL250516C00200000", "AAPL250516P00200000"}, s.symbols)
}
