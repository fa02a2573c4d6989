// Package venue implements the hedge venue adapters: a live perpetuals
// exchange client and an in-memory simulator for paper trading. Both satisfy
// engine.Venue, so the rest of the system never knows which one it talks to.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/lphedger/internal/crypto"
	"github.com/alanyoungcy/lphedger/internal/domain"
	"github.com/alanyoungcy/lphedger/internal/engine"
)

// Config holds the live adapter's connection parameters.
type Config struct {
	// BaseURL is the exchange API root, e.g. "https://api.hyperliquid.xyz".
	BaseURL string

	// Mainnet selects the signing source for agent signatures.
	Mainnet bool

	// Slippage is the price buffer applied to IoC limit orders so they fill
	// like market orders, e.g. 0.01 for 1%.
	Slippage float64

	Timeout time.Duration
}

// assetInfo is the per-symbol metadata cached from the exchange meta call.
type assetInfo struct {
	id         int
	szDecimals int
}

// Hyperliquid is the live exchange adapter. Orders are IoC limit orders
// priced through the book by the slippage buffer; reductions are flagged
// reduce-only so a stale size reading can never flip the hedge long.
type Hyperliquid struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	mainnet    bool
	slippage   float64

	mu     sync.Mutex
	assets map[string]assetInfo
}

var _ engine.Venue = (*Hyperliquid)(nil)

// NewHyperliquid creates the live adapter. The signer's wallet is the
// account queried and traded.
func NewHyperliquid(cfg Config, signer *crypto.Signer) *Hyperliquid {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	slippage := cfg.Slippage
	if slippage <= 0 {
		slippage = 0.01
	}
	return &Hyperliquid{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		mainnet:    cfg.Mainnet,
		slippage:   slippage,
		assets:     make(map[string]assetInfo),
	}
}

// GetPosition returns the account's current hedge for symbol. A long
// position reports side long with zero size, so the engine treats it as no
// hedge rather than mis-sizing a delta against it.
func (h *Hyperliquid) GetPosition(ctx context.Context, symbol string) (domain.HedgeState, error) {
	state, err := h.clearinghouseState(ctx)
	if err != nil {
		return domain.HedgeState{}, err
	}

	for _, ap := range state.AssetPositions {
		if ap.Position.Coin != symbol {
			continue
		}
		szi, err := strconv.ParseFloat(ap.Position.Szi, 64)
		if err != nil {
			return domain.HedgeState{}, fmt.Errorf("venue/hyperliquid: parse size %q: %w", ap.Position.Szi, err)
		}
		notional, _ := strconv.ParseFloat(ap.Position.PositionValue, 64)

		if szi < 0 {
			return domain.HedgeState{
				Symbol:      symbol,
				Size:        -szi,
				NotionalUSD: notional,
				Side:        domain.HedgeSideShort,
			}, nil
		}
		if szi > 0 {
			return domain.HedgeState{Symbol: symbol, Side: domain.HedgeSideLong}, nil
		}
	}

	return domain.HedgeState{Symbol: symbol, Side: domain.HedgeSideFlat}, nil
}

// SetPosition moves the short for symbol to the given size by trading the
// difference against the current holding.
func (h *Hyperliquid) SetPosition(ctx context.Context, symbol string, size, notionalUSD float64) (*domain.FillResult, error) {
	cur, err := h.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}

	asset, err := h.assetFor(ctx, symbol)
	if err != nil {
		return nil, err
	}

	delta := size - cur.Size
	if roundSize(math.Abs(delta), asset.szDecimals) == 0 {
		return nil, nil
	}

	mark, err := h.markPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	// Growing the short sells; shrinking it buys back, reduce-only.
	sell := delta > 0
	reduceOnly := !sell
	filled, avgPx, err := h.placeOrder(ctx, asset, sell, math.Abs(delta), mark, reduceOnly)
	if err != nil {
		return nil, err
	}

	action := domain.FillActionIncreased
	switch {
	case cur.Size == 0:
		action = domain.FillActionOpened
	case size == 0:
		action = domain.FillActionClosed
	case delta < 0:
		action = domain.FillActionReduced
	}

	return &domain.FillResult{Action: action, FilledSize: filled, AvgPrice: avgPx}, nil
}

// ClosePosition buys back the entire short for symbol. Closing an already
// flat symbol is a successful no-op.
func (h *Hyperliquid) ClosePosition(ctx context.Context, symbol string) (*domain.FillResult, error) {
	cur, err := h.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if cur.Size == 0 {
		return nil, nil
	}

	asset, err := h.assetFor(ctx, symbol)
	if err != nil {
		return nil, err
	}
	mark, err := h.markPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	filled, avgPx, err := h.placeOrder(ctx, asset, false, cur.Size, mark, true)
	if err != nil {
		return nil, err
	}
	return &domain.FillResult{Action: domain.FillActionClosed, FilledSize: filled, AvgPrice: avgPx}, nil
}

// GetFundingRate returns the current hourly funding rate for symbol.
func (h *Hyperliquid) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	metaCtxs, err := h.metaAndAssetCtxs(ctx)
	if err != nil {
		return 0, err
	}
	ctxInfo, ok := metaCtxs[symbol]
	if !ok {
		return 0, fmt.Errorf("venue/hyperliquid: funding for %s: %w", symbol, domain.ErrNotFound)
	}
	rate, err := strconv.ParseFloat(ctxInfo.Funding, 64)
	if err != nil {
		return 0, fmt.Errorf("venue/hyperliquid: parse funding %q: %w", ctxInfo.Funding, err)
	}
	return rate, nil
}

// GetAccountEquity returns the account value in USD.
func (h *Hyperliquid) GetAccountEquity(ctx context.Context) (float64, error) {
	state, err := h.clearinghouseState(ctx)
	if err != nil {
		return 0, err
	}
	equity, err := strconv.ParseFloat(state.MarginSummary.AccountValue, 64)
	if err != nil {
		return 0, fmt.Errorf("venue/hyperliquid: parse account value %q: %w", state.MarginSummary.AccountValue, err)
	}
	return equity, nil
}

// --------------------------------------------------------------------------
// Info endpoint
// --------------------------------------------------------------------------

type clearinghouse struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			PositionValue string `json:"positionValue"`
			EntryPx       string `json:"entryPx"`
		} `json:"position"`
	} `json:"assetPositions"`
}

type assetCtx struct {
	Funding string `json:"funding"`
	MarkPx  string `json:"markPx"`
}

func (h *Hyperliquid) clearinghouseState(ctx context.Context) (*clearinghouse, error) {
	body := map[string]any{
		"type": "clearinghouseState",
		"user": h.signer.Address().Hex(),
	}
	respBody, err := h.post(ctx, "/info", body)
	if err != nil {
		return nil, fmt.Errorf("venue/hyperliquid: clearinghouse state: %w", err)
	}
	var state clearinghouse
	if err := json.Unmarshal(respBody, &state); err != nil {
		return nil, fmt.Errorf("venue/hyperliquid: decode clearinghouse state: %w", err)
	}
	return &state, nil
}

// assetFor resolves the asset index and size precision for a symbol, fetching
// and caching the exchange meta on first use.
func (h *Hyperliquid) assetFor(ctx context.Context, symbol string) (assetInfo, error) {
	h.mu.Lock()
	if info, ok := h.assets[symbol]; ok {
		h.mu.Unlock()
		return info, nil
	}
	h.mu.Unlock()

	respBody, err := h.post(ctx, "/info", map[string]any{"type": "meta"})
	if err != nil {
		return assetInfo{}, fmt.Errorf("venue/hyperliquid: meta: %w", err)
	}

	var meta struct {
		Universe []struct {
			Name       string `json:"name"`
			SzDecimals int    `json:"szDecimals"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(respBody, &meta); err != nil {
		return assetInfo{}, fmt.Errorf("venue/hyperliquid: decode meta: %w", err)
	}

	h.mu.Lock()
	for i, u := range meta.Universe {
		h.assets[u.Name] = assetInfo{id: i, szDecimals: u.SzDecimals}
	}
	info, ok := h.assets[symbol]
	h.mu.Unlock()

	if !ok {
		return assetInfo{}, fmt.Errorf("venue/hyperliquid: unknown symbol %s: %w", symbol, domain.ErrPermanent)
	}
	return info, nil
}

// metaAndAssetCtxs returns the per-symbol market context keyed by coin name.
func (h *Hyperliquid) metaAndAssetCtxs(ctx context.Context) (map[string]assetCtx, error) {
	respBody, err := h.post(ctx, "/info", map[string]any{"type": "metaAndAssetCtxs"})
	if err != nil {
		return nil, fmt.Errorf("venue/hyperliquid: meta and asset ctxs: %w", err)
	}

	// The response is a two-element tuple: [meta, assetCtxs].
	var tuple []json.RawMessage
	if err := json.Unmarshal(respBody, &tuple); err != nil || len(tuple) != 2 {
		return nil, fmt.Errorf("venue/hyperliquid: decode meta tuple: %w", err)
	}
	var meta struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(tuple[0], &meta); err != nil {
		return nil, fmt.Errorf("venue/hyperliquid: decode meta: %w", err)
	}
	var ctxs []assetCtx
	if err := json.Unmarshal(tuple[1], &ctxs); err != nil {
		return nil, fmt.Errorf("venue/hyperliquid: decode asset ctxs: %w", err)
	}

	out := make(map[string]assetCtx, len(ctxs))
	for i, c := range ctxs {
		if i < len(meta.Universe) {
			out[meta.Universe[i].Name] = c
		}
	}
	return out, nil
}

func (h *Hyperliquid) markPrice(ctx context.Context, symbol string) (float64, error) {
	ctxs, err := h.metaAndAssetCtxs(ctx)
	if err != nil {
		return 0, err
	}
	c, ok := ctxs[symbol]
	if !ok {
		return 0, fmt.Errorf("venue/hyperliquid: mark price for %s: %w", symbol, domain.ErrNotFound)
	}
	mark, err := strconv.ParseFloat(c.MarkPx, 64)
	if err != nil {
		return 0, fmt.Errorf("venue/hyperliquid: parse mark price %q: %w", c.MarkPx, err)
	}
	return mark, nil
}

// --------------------------------------------------------------------------
// Exchange endpoint
// --------------------------------------------------------------------------

// placeOrder submits a signed IoC limit order and returns the filled size and
// average fill price.
func (h *Hyperliquid) placeOrder(ctx context.Context, asset assetInfo, sell bool, size, mark float64, reduceOnly bool) (float64, float64, error) {
	limit := mark * (1 + h.slippage)
	if sell {
		limit = mark * (1 - h.slippage)
	}

	action := map[string]any{
		"type": "order",
		"orders": []map[string]any{{
			"a": asset.id,
			"b": !sell,
			"p": formatPrice(limit),
			"s": formatSizeStr(size, asset.szDecimals),
			"r": reduceOnly,
			"t": map[string]any{"limit": map[string]any{"tif": "Ioc"}},
		}},
		"grouping": "na",
	}

	respBody, err := h.postExchange(ctx, action)
	if err != nil {
		return 0, 0, err
	}

	var resp struct {
		Status   string `json:"status"`
		Response struct {
			Data struct {
				Statuses []struct {
					Filled *struct {
						TotalSz string `json:"totalSz"`
						AvgPx   string `json:"avgPx"`
					} `json:"filled"`
					Error string `json:"error"`
				} `json:"statuses"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, 0, fmt.Errorf("venue/hyperliquid: decode order response: %w", err)
	}
	if resp.Status != "ok" {
		return 0, 0, fmt.Errorf("venue/hyperliquid: order rejected: %s", string(respBody))
	}
	for _, st := range resp.Response.Data.Statuses {
		if st.Error != "" {
			return 0, 0, fmt.Errorf("venue/hyperliquid: order error: %s", st.Error)
		}
		if st.Filled != nil {
			filled, _ := strconv.ParseFloat(st.Filled.TotalSz, 64)
			avgPx, _ := strconv.ParseFloat(st.Filled.AvgPx, 64)
			return filled, avgPx, nil
		}
	}
	return 0, 0, fmt.Errorf("venue/hyperliquid: order not filled: %w", domain.ErrTransient)
}

// postExchange signs an action and submits it to the exchange endpoint.
func (h *Hyperliquid) postExchange(ctx context.Context, action map[string]any) ([]byte, error) {
	actionJSON, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("venue/hyperliquid: marshal action: %w", err)
	}

	nonce := uint64(time.Now().UnixMilli())
	sig, err := h.signer.SignAction(crypto.HashAction(actionJSON, nonce), h.mainnet)
	if err != nil {
		return nil, fmt.Errorf("venue/hyperliquid: sign action: %w", err)
	}

	body := map[string]any{
		"action":    json.RawMessage(actionJSON),
		"nonce":     nonce,
		"signature": sig,
	}
	return h.post(ctx, "/exchange", body)
}

// post builds, sends, and reads a JSON request; it returns the raw body.
func (h *Hyperliquid) post(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors so callers can
// tell retryable failures from deterministic ones.
func checkHTTPStatus(statusCode int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return fmt.Errorf("HTTP %d: %w: %s", statusCode, domain.ErrTransient, string(body))
	default:
		return fmt.Errorf("HTTP %d: %w: %s", statusCode, domain.ErrPermanent, string(body))
	}
}

// formatPrice renders a price at the five significant figures the exchange
// accepts.
func formatPrice(px float64) string {
	return strconv.FormatFloat(px, 'g', 5, 64)
}

// formatSizeStr renders a size rounded down to the asset's size precision.
func formatSizeStr(sz float64, szDecimals int) string {
	return strconv.FormatFloat(roundSize(sz, szDecimals), 'f', -1, 64)
}

// roundSize truncates a size to the asset's supported decimals.
func roundSize(sz float64, szDecimals int) float64 {
	scale := math.Pow10(szDecimals)
	return math.Trunc(sz*scale) / scale
}
