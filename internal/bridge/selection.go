package bridge

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"
)

// dbpsScale is the deci-basis-point denominator: 10000 dbps = 1%, so the
// full scale (100%) is 1_000_000.
const dbpsScale = 1_000_000

// Selection is the outcome of picking one (adapter, slippage) preference
// that quoted within tolerance.
type Selection struct {
	Adapter      Adapter
	Tag          string
	SlippageDbps int64
	Entries      []TxEntry
}

// SelectAndSend walks preferences/slippagesDbps (zipped in order), quoting
// each registered adapter and accepting the first whose received amount is
// within its own tolerance, then calling Send on it. Implements spec
// §4.4.2 step 5.
func SelectAndSend(ctx context.Context, log *zap.SugaredLogger, reg *Registry, preferences []string, slippagesDbps []int64, sender, recipient string, amountToBridge *big.Int, route Route) (*Selection, error) {
	n := len(preferences)
	if len(slippagesDbps) < n {
		n = len(slippagesDbps)
	}

	for i := 0; i < n; i++ {
		tag := preferences[i]
		tolerance := slippagesDbps[i]

		adapter, ok := reg.Get(tag)
		if !ok {
			log.Warnw("bridge preference not registered, skipping", "tag", tag)
			continue
		}

		received, err := adapter.GetReceivedAmount(ctx, amountToBridge, route)
		if err != nil {
			log.Warnw("quote failed, trying next preference", "tag", tag, "error", err)
			continue
		}

		slippage := computeSlippageDbps(amountToBridge, received)
		if slippage > tolerance {
			log.Infow("quote exceeded tolerance, trying next preference", "tag", tag, "slippageDbps", slippage, "toleranceDbps", tolerance)
			continue
		}

		entries, err := adapter.Send(ctx, sender, recipient, amountToBridge, route)
		if err != nil {
			log.Warnw("send failed, trying next preference", "tag", tag, "error", err)
			continue
		}

		return &Selection{Adapter: adapter, Tag: tag, SlippageDbps: tolerance, Entries: entries}, nil
	}

	return nil, fmt.Errorf("all %d bridge preferences exhausted for route origin=%d destination=%d asset=%s", n, route.Origin, route.Destination, route.Asset)
}

// computeSlippageDbps computes (amountToBridge - received) * 1_000_000 / amountToBridge,
// clamped to zero when received exceeds the requested amount.
func computeSlippageDbps(amountToBridge, received *big.Int) int64 {
	if amountToBridge.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(amountToBridge, received)
	if diff.Sign() <= 0 {
		return 0
	}
	scaled := new(big.Int).Mul(diff, big.NewInt(dbpsScale))
	scaled.Div(scaled, amountToBridge)
	return scaled.Int64()
}
