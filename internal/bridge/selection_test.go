package bridge

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everclearorg/mark-sub001/internal/logging"
)

type fakeAdapter struct {
	tag           string
	received      *big.Int
	quoteErr      error
	sendCallCount int
	sendAmount    *big.Int
}

func (f *fakeAdapter) Type() string { return f.tag }
func (f *fakeAdapter) GetMinimumAmount(ctx context.Context, route Route) (*big.Int, error) {
	return nil, nil
}
func (f *fakeAdapter) GetReceivedAmount(ctx context.Context, amount *big.Int, route Route) (*big.Int, error) {
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return f.received, nil
}
func (f *fakeAdapter) Send(ctx context.Context, sender, recipient string, amount *big.Int, route Route) ([]TxEntry, error) {
	f.sendCallCount++
	f.sendAmount = amount
	return []TxEntry{{Memo: MemoRebalance, Method: "send", Args: []interface{}{amount}}}, nil
}
func (f *fakeAdapter) ReadyOnDestination(ctx context.Context, amount *big.Int, route Route, originReceipt OriginReceipt) (bool, error) {
	return true, nil
}
func (f *fakeAdapter) DestinationCallback(ctx context.Context, route Route, originReceipt OriginReceipt) (*TxEntry, error) {
	return nil, nil
}
func (f *fakeAdapter) SupportsSwap() bool { return false }
func (f *fakeAdapter) ExecuteSwap(ctx context.Context, sender, recipient string, amount *big.Int, route Route) (SwapResult, error) {
	return SwapResult{}, nil
}

// TestSelectAndSend_AcceptsWithinTolerance mirrors spec scenario S3: a
// route with maximum 10e18 and reserve 3e18 against a 20e18 origin balance
// bridges 17e18; a 1% slippage quote (10000 dbps) passes a 10000 dbps (1%)
// tolerance.
func TestSelectAndSend_AcceptsWithinTolerance(t *testing.T) {
	amountToBridge, _ := new(big.Int).SetString("17000000000000000000", 10)
	received, _ := new(big.Int).SetString("16830000000000000000", 10) // 1% less

	adapterA := &fakeAdapter{tag: "A", received: received}
	reg := NewRegistry()
	reg.Register("A", adapterA)

	sel, err := SelectAndSend(context.Background(), logging.Noop(), reg, []string{"A"}, []int64{10000}, "0xsender", "0xrecipient", amountToBridge, Route{Origin: 1, Destination: 10, Asset: "E"})
	require.NoError(t, err)
	assert.Equal(t, "A", sel.Tag)
	assert.Equal(t, 1, adapterA.sendCallCount)
	assert.Equal(t, amountToBridge.String(), adapterA.sendAmount.String())
}

func TestSelectAndSend_RejectsOutOfTolerance(t *testing.T) {
	amount := big.NewInt(10000)
	received := big.NewInt(9950) // 0.5% slippage => 5000 dbps

	reg := NewRegistry()
	reg.Register("tight", &fakeAdapter{tag: "tight", received: received})

	_, err := SelectAndSend(context.Background(), logging.Noop(), reg, []string{"tight"}, []int64{4999}, "s", "r", amount, Route{Origin: 1, Destination: 10, Asset: "E"})
	assert.Error(t, err, "4999 dbps tolerance must reject a 5000 dbps quote")
}

func TestSelectAndSend_FallsThroughToNextPreference(t *testing.T) {
	amount := big.NewInt(10000)

	reg := NewRegistry()
	reg.Register("bad", &fakeAdapter{tag: "bad", received: big.NewInt(1)}) // huge slippage
	good := &fakeAdapter{tag: "good", received: big.NewInt(9999)}
	reg.Register("good", good)

	sel, err := SelectAndSend(context.Background(), logging.Noop(), reg, []string{"bad", "good"}, []int64{100, 100}, "s", "r", amount, Route{Origin: 1, Destination: 10, Asset: "E"})
	require.NoError(t, err)
	assert.Equal(t, "good", sel.Tag)
	assert.Equal(t, 1, good.sendCallCount)
}
