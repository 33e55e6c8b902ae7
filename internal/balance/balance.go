package balance

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/everclearorg/mark-sub001/internal/config"
)

// GasType distinguishes Tron's two resource balances from a plain native
// gas balance on every other chain.
type GasType string

const (
	GasNative    GasType = "native"
	GasBandwidth GasType = "Bandwidth"
	GasEnergy    GasType = "Energy"
)

// ChainReader is the minimal chain-read surface BalanceSvc needs: native
// and ERC20 balance probes, resolved against whatever owner address applies
// on that chain (EOA or Zodiac-routed Safe).
type ChainReader interface {
	NativeBalance(ctx context.Context, chainID int64, owner string) (*big.Int, error)
	TokenBalance(ctx context.Context, chainID int64, tokenAddress, owner string) (*big.Int, error)
	ResolvedOwner(chainID int64) string
	GasBalances(ctx context.Context, chainID int64) (map[GasType]*big.Int, error)
}

// HubReader reads the Everclear hub's custody storage contract.
type HubReader interface {
	CustodiedBalance(ctx context.Context, tickerHash string, chainID int64) (*big.Int, error)
}

// Svc implements spec §4.7's BalanceSvc/AssetSvc over a ChainReader.
type Svc struct {
	cfg    *config.Config
	reader ChainReader
	hub    HubReader
	log    *zap.SugaredLogger
}

// New builds a balance service bound to cfg and reader.
func New(cfg *config.Config, reader ChainReader, hub HubReader, log *zap.SugaredLogger) *Svc {
	return &Svc{cfg: cfg, reader: reader, hub: hub, log: log}
}

// GetTickers returns the deduplicated, lowercase list of configured tickers.
func (s *Svc) GetTickers() []string {
	return s.cfg.AllTickers()
}

// GetMarkBalances returns ticker -> chainId -> balance in 18-decimal hub
// units across every chain that carries each ticker. A failed probe for a
// single (ticker, chain) pair collapses to zero and is logged rather than
// aborting the tick.
func (s *Svc) GetMarkBalances(ctx context.Context) map[string]map[int64]*big.Int {
	out := map[string]map[int64]*big.Int{}
	for _, ticker := range s.GetTickers() {
		out[ticker] = s.GetMarkBalancesForTicker(ctx, ticker)
	}
	return out
}

// GetMarkBalancesForTicker is GetMarkBalances narrowed to one ticker. Probes
// across chains are fanned out concurrently per §5's concurrency model; a
// single chain's failure collapses to a zero balance rather than aborting
// the others.
func (s *Svc) GetMarkBalancesForTicker(ctx context.Context, ticker string) map[int64]*big.Int {
	result := map[int64]*big.Int{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for chainIDStr, chain := range s.cfg.Chains {
		chainIDStr, chain := chainIDStr, chain
		chainID, err := strconv.ParseInt(chainIDStr, 10, 64)
		if err != nil {
			continue
		}

		for _, asset := range chain.Assets {
			asset := asset
			if !strings.EqualFold(asset.TickerHash, ticker) {
				continue
			}

			g.Go(func() error {
				owner := s.reader.ResolvedOwner(chainID)
				var native *big.Int
				var err error
				if asset.IsNative {
					native, err = s.reader.NativeBalance(gctx, chainID, owner)
				} else {
					native, err = s.reader.TokenBalance(gctx, chainID, asset.Address, owner)
				}
				if err != nil {
					s.log.Warnw("balance probe failed, treating as zero", "ticker", ticker, "chainId", chainID, "error", err)
					native = big.NewInt(0)
				}

				hub := ToHub(native, asset.Decimals)
				mu.Lock()
				result[chainID] = hub
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait() // per-chain errors already collapsed to zero above, never propagated

	return result
}

// GetMarkGasBalances returns {chainId, gasType} -> balance; Tron chains
// surface both Bandwidth and Energy instead of a single native balance.
func (s *Svc) GetMarkGasBalances(ctx context.Context) map[int64]map[GasType]*big.Int {
	out := map[int64]map[GasType]*big.Int{}
	for chainIDStr := range s.cfg.Chains {
		chainID, err := strconv.ParseInt(chainIDStr, 10, 64)
		if err != nil {
			continue
		}
		balances, err := s.reader.GasBalances(ctx, chainID)
		if err != nil {
			s.log.Warnw("gas balance probe failed", "chainId", chainID, "error", err)
			continue
		}
		out[chainID] = balances
	}
	return out
}

// GetCustodiedBalances returns per-ticker, per-chain custodied assets read
// from the hub's storage contract.
func (s *Svc) GetCustodiedBalances(ctx context.Context) map[string]map[int64]*big.Int {
	out := map[string]map[int64]*big.Int{}
	for _, ticker := range s.GetTickers() {
		out[ticker] = map[int64]*big.Int{}
		for chainIDStr := range s.cfg.Chains {
			chainID, err := strconv.ParseInt(chainIDStr, 10, 64)
			if err != nil {
				continue
			}
			amt, err := s.hub.CustodiedBalance(ctx, ticker, chainID)
			if err != nil {
				s.log.Warnw("custodied balance probe failed", "ticker", ticker, "chainId", chainID, "error", err)
				amt = big.NewInt(0)
			}
			out[ticker][chainID] = amt
		}
	}
	return out
}

// GetAvailableBalanceLessEarmarks returns balance minus the sum of
// pendingEarmarkMinAmounts, clamped to zero. Underflow is logged, never
// returned as negative.
func (s *Svc) GetAvailableBalanceLessEarmarks(balance *big.Int, pendingEarmarkMinAmounts []*big.Int) *big.Int {
	total := new(big.Int).Set(balance)
	for _, amt := range pendingEarmarkMinAmounts {
		total.Sub(total, amt)
	}
	if total.Sign() < 0 {
		s.log.Warnw("earmark deduction exceeded available balance, clamping to zero", "balance", balance.String())
		return big.NewInt(0)
	}
	return total
}
