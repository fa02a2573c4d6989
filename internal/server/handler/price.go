package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// PriceHandler serves the latest observed hedge-symbol prices out of the
// cache the cycle loop writes on every pass. It gives dashboards a REST
// fallback when the WebSocket price stream is not connected.
type PriceHandler struct {
	prices domain.PriceCache
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler over the given price cache.
func NewPriceHandler(prices domain.PriceCache, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		logger: logHandler(logger, "prices"),
	}
}

// priceResponse is the single-symbol price payload.
type priceResponse struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// ListPrices returns the latest cached price for each requested symbol.
// Symbols without a cached price are omitted.
// GET /api/prices?symbols=ETH,BTC
func (h *PriceHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}

	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}

	prices, err := h.prices.GetPrices(r.Context(), symbols)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list prices failed",
			slog.String("symbols", raw),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read prices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

// GetPrice returns the latest cached price and observation time for one
// symbol.
// GET /api/prices/{symbol}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")

	price, ts, err := h.prices.GetPrice(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no price observed for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "get price failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read price")
		return
	}

	writeJSON(w, http.StatusOK, priceResponse{
		Symbol:    symbol,
		Price:     price,
		Timestamp: ts.UTC(),
	})
}
