// Package chain reads concentrated-liquidity position state from Uniswap
// V3-compatible pools over JSON-RPC.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/lphedger/internal/domain"
	"github.com/alanyoungcy/lphedger/internal/engine"
)

const (
	positionManagerABIJSON = `[{"name":"positions","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"nonce","type":"uint96"},{"name":"operator","type":"address"},{"name":"token0","type":"address"},{"name":"token1","type":"address"},{"name":"fee","type":"uint24"},{"name":"tickLower","type":"int24"},{"name":"tickUpper","type":"int24"},{"name":"liquidity","type":"uint128"},{"name":"feeGrowthInside0LastX128","type":"uint256"},{"name":"feeGrowthInside1LastX128","type":"uint256"},{"name":"tokensOwed0","type":"uint128"},{"name":"tokensOwed1","type":"uint128"}]}]`

	poolABIJSON = `[{"name":"slot0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},{"name":"feeProtocol","type":"uint8"},{"name":"unlocked","type":"bool"}]}]`

	erc20ABIJSON = `[{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}]`
)

var (
	positionManagerABI abi.ABI
	poolABI            abi.ABI
	erc20ABI           abi.ABI
	abiOnce            sync.Once
)

func loadABIs() {
	abiOnce.Do(func() {
		positionManagerABI, _ = abi.JSON(strings.NewReader(positionManagerABIJSON))
		poolABI, _ = abi.JSON(strings.NewReader(poolABIJSON))
		erc20ABI, _ = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
}

// Caller is the slice of the RPC client the reader needs; *ethclient.Client
// satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dialer opens a Caller for an RPC endpoint URL.
type Dialer func(ctx context.Context, url string) (Caller, error)

func defaultDialer(ctx context.Context, url string) (Caller, error) {
	return ethclient.DialContext(ctx, url)
}

// Config holds the reader's chain parameters.
type Config struct {
	// RPCEndpoints are JSON-RPC URLs tried in order; the reader rotates to
	// the next endpoint when a call fails.
	RPCEndpoints []string

	// PositionManager is the NFT position manager contract address.
	PositionManager string
}

// UniswapReader reads position state through the NFT position manager and the
// pool contract. Call failures rotate across the configured endpoints before
// surfacing as transient errors; decode failures are permanent.
type UniswapReader struct {
	endpoints []string
	dial      Dialer
	manager   common.Address
	logger    *slog.Logger

	mu       sync.Mutex
	client   Caller
	current  int
	decimals map[common.Address]uint8
}

var _ engine.LPReader = (*UniswapReader)(nil)

// NewUniswapReader creates a reader over the configured endpoints.
func NewUniswapReader(cfg Config, logger *slog.Logger) (*UniswapReader, error) {
	loadABIs()
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("chain: at least one RPC endpoint is required")
	}
	if !common.IsHexAddress(cfg.PositionManager) {
		return nil, fmt.Errorf("chain: invalid position manager address %q", cfg.PositionManager)
	}
	return &UniswapReader{
		endpoints: cfg.RPCEndpoints,
		dial:      defaultDialer,
		manager:   common.HexToAddress(cfg.PositionManager),
		logger:    logger.With(slog.String("component", "chain")),
		decimals:  make(map[common.Address]uint8),
	}, nil
}

// NewUniswapReaderWithDialer is NewUniswapReader with a custom dialer,
// used by tests to substitute the RPC transport.
func NewUniswapReaderWithDialer(cfg Config, dial Dialer, logger *slog.Logger) (*UniswapReader, error) {
	r, err := NewUniswapReader(cfg, logger)
	if err != nil {
		return nil, err
	}
	r.dial = dial
	return r, nil
}

// ReadPosition returns the current snapshot of the LP position held as NFT
// tokenID in the given pool.
func (r *UniswapReader) ReadPosition(ctx context.Context, pool string, tokenID uint64) (domain.LPSnapshot, error) {
	if !common.IsHexAddress(pool) {
		return domain.LPSnapshot{}, fmt.Errorf("chain: invalid pool address %q: %w", pool, domain.ErrPermanent)
	}
	poolAddr := common.HexToAddress(pool)

	pos, err := r.readManagedPosition(ctx, tokenID)
	if err != nil {
		return domain.LPSnapshot{}, err
	}

	sqrtPriceX96, tick, err := r.readSlot0(ctx, poolAddr)
	if err != nil {
		return domain.LPSnapshot{}, err
	}

	dec0, err := r.tokenDecimals(ctx, pos.token0)
	if err != nil {
		return domain.LPSnapshot{}, err
	}
	dec1, err := r.tokenDecimals(ctx, pos.token1)
	if err != nil {
		return domain.LPSnapshot{}, err
	}

	// sqrtPriceX96 is sqrt(rawPrice) in Q64.96 fixed point.
	sqrtPrice, _ := new(big.Float).Quo(
		new(big.Float).SetInt(sqrtPriceX96),
		new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96)),
	).Float64()
	price := sqrtPrice * sqrtPrice * math.Pow10(int(dec0)-int(dec1))

	liquidity, _ := new(big.Float).SetInt(pos.liquidity).Float64()
	raw0, raw1 := amountsForLiquidity(liquidity, sqrtPrice, pos.tickLower, pos.tickUpper)

	status := domain.RangeStatusIn
	switch {
	case tick < pos.tickLower:
		status = domain.RangeStatusBelow
	case tick >= pos.tickUpper:
		status = domain.RangeStatusAbove
	}

	owed0, _ := new(big.Float).SetInt(pos.tokensOwed0).Float64()
	owed1, _ := new(big.Float).SetInt(pos.tokensOwed1).Float64()

	return domain.LPSnapshot{
		PositionID: strconv.FormatUint(tokenID, 10),
		Pool:       pool,
		Amount0:    raw0 / math.Pow10(int(dec0)),
		Amount1:    raw1 / math.Pow10(int(dec1)),
		Price:      price,
		Range:      status,
		Fees0:      owed0 / math.Pow10(int(dec0)),
		Fees1:      owed1 / math.Pow10(int(dec1)),
		TickLower:  pos.tickLower,
		TickUpper:  pos.tickUpper,
	}, nil
}

// managedPosition is the decoded positions() result.
type managedPosition struct {
	token0      common.Address
	token1      common.Address
	tickLower   int
	tickUpper   int
	liquidity   *big.Int
	tokensOwed0 *big.Int
	tokensOwed1 *big.Int
}

func (r *UniswapReader) readManagedPosition(ctx context.Context, tokenID uint64) (managedPosition, error) {
	data, err := positionManagerABI.Pack("positions", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return managedPosition{}, fmt.Errorf("chain: pack positions call: %w", err)
	}

	out, err := r.call(ctx, r.manager, data)
	if err != nil {
		return managedPosition{}, fmt.Errorf("chain: positions(%d): %w", tokenID, err)
	}

	vals, err := positionManagerABI.Unpack("positions", out)
	if err != nil || len(vals) != 12 {
		return managedPosition{}, fmt.Errorf("chain: decode positions(%d): %w: %v", tokenID, domain.ErrPermanent, err)
	}

	return managedPosition{
		token0:      vals[2].(common.Address),
		token1:      vals[3].(common.Address),
		tickLower:   int(vals[5].(*big.Int).Int64()),
		tickUpper:   int(vals[6].(*big.Int).Int64()),
		liquidity:   vals[7].(*big.Int),
		tokensOwed0: vals[10].(*big.Int),
		tokensOwed1: vals[11].(*big.Int),
	}, nil
}

func (r *UniswapReader) readSlot0(ctx context.Context, pool common.Address) (*big.Int, int, error) {
	data, err := poolABI.Pack("slot0")
	if err != nil {
		return nil, 0, fmt.Errorf("chain: pack slot0 call: %w", err)
	}

	out, err := r.call(ctx, pool, data)
	if err != nil {
		return nil, 0, fmt.Errorf("chain: slot0: %w", err)
	}

	vals, err := poolABI.Unpack("slot0", out)
	if err != nil || len(vals) != 7 {
		return nil, 0, fmt.Errorf("chain: decode slot0: %w: %v", domain.ErrPermanent, err)
	}
	return vals[0].(*big.Int), int(vals[1].(*big.Int).Int64()), nil
}

// tokenDecimals reads and caches an ERC-20's decimals.
func (r *UniswapReader) tokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	r.mu.Lock()
	if dec, ok := r.decimals[token]; ok {
		r.mu.Unlock()
		return dec, nil
	}
	r.mu.Unlock()

	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("chain: pack decimals call: %w", err)
	}
	out, err := r.call(ctx, token, data)
	if err != nil {
		return 0, fmt.Errorf("chain: decimals %s: %w", token.Hex(), err)
	}
	vals, err := erc20ABI.Unpack("decimals", out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("chain: decode decimals %s: %w: %v", token.Hex(), domain.ErrPermanent, err)
	}
	dec := vals[0].(uint8)

	r.mu.Lock()
	r.decimals[token] = dec
	r.mu.Unlock()
	return dec, nil
}

// call executes a read-only contract call, rotating through the configured
// endpoints until one succeeds.
func (r *UniswapReader) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}

	var lastErr error
	for attempt := 0; attempt < len(r.endpoints); attempt++ {
		client, endpoint, err := r.currentClient(ctx)
		if err != nil {
			lastErr = err
			r.rotate(ctx, endpoint)
			continue
		}

		out, err := client.CallContract(ctx, msg, nil)
		if err == nil {
			return out, nil
		}
		lastErr = err
		r.logger.WarnContext(ctx, "rpc call failed, rotating endpoint",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		r.rotate(ctx, endpoint)

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrContextDone, ctx.Err())
		}
	}
	return nil, fmt.Errorf("all rpc endpoints failed: %w: %w", domain.ErrTransient, lastErr)
}

// currentClient returns the active client, dialing lazily.
func (r *UniswapReader) currentClient(ctx context.Context) (Caller, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	endpoint := r.endpoints[r.current]
	if r.client != nil {
		return r.client, endpoint, nil
	}
	client, err := r.dial(ctx, endpoint)
	if err != nil {
		return nil, endpoint, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	r.client = client
	return client, endpoint, nil
}

// rotate advances to the next endpoint unless another goroutine already did.
func (r *UniswapReader) rotate(_ context.Context, failedEndpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endpoints[r.current] != failedEndpoint {
		return
	}
	r.current = (r.current + 1) % len(r.endpoints)
	r.client = nil
}
