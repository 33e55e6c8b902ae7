package invoice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/everclearorg/mark-sub001/internal/config"
	"github.com/everclearorg/mark-sub001/internal/domain"
)

func testCfg() *config.Config {
	return &config.Config{
		Chains: map[string]config.ChainConfig{
			"1": {Assets: []config.Asset{{Symbol: "USDC", TickerHash: "usdc-hash", Decimals: 6}}},
		},
		SupportedSettlementDomains: []int64{10, 20},
	}
}

func validInvoice() domain.Invoice {
	return domain.Invoice{
		ID:           "inv-1",
		Owner:        "0xsomeoneelse",
		Amount:       "1000000",
		TickerHash:   "usdc-hash",
		OriginDomain: 1,
		Destinations: []int64{10},
		CreatedAt:    time.Now().Unix(),
	}
}

func TestValidate_Accepts(t *testing.T) {
	_, ok := Validate(testCfg(), validInvoice(), "0xmark", time.Now())
	assert.True(t, ok)
}

func TestValidate_RejectsInvalidFormat(t *testing.T) {
	inv := validInvoice()
	inv.ID = ""
	reason, ok := Validate(testCfg(), inv, "0xmark", time.Now())
	assert.False(t, ok)
	assert.Equal(t, domain.RejectInvalidFormat, reason)
}

func TestValidate_RejectsInvalidAmount(t *testing.T) {
	inv := validInvoice()
	inv.Amount = "0"
	reason, ok := Validate(testCfg(), inv, "0xmark", time.Now())
	assert.False(t, ok)
	assert.Equal(t, domain.RejectInvalidAmount, reason)

	inv.Amount = "not-a-number"
	reason, ok = Validate(testCfg(), inv, "0xmark", time.Now())
	assert.False(t, ok)
	assert.Equal(t, domain.RejectInvalidAmount, reason)
}

func TestValidate_RejectsOwnAddress(t *testing.T) {
	inv := validInvoice()
	inv.Owner = "0xMARK"
	reason, ok := Validate(testCfg(), inv, "0xmark", time.Now())
	assert.False(t, ok)
	assert.Equal(t, domain.RejectInvalidOwner, reason)
}

func TestValidate_RejectsUnsupportedDestination(t *testing.T) {
	inv := validInvoice()
	inv.Destinations = []int64{999}
	reason, ok := Validate(testCfg(), inv, "0xmark", time.Now())
	assert.False(t, ok)
	assert.Equal(t, domain.RejectInvalidDestinations, reason)
}

func TestValidate_RejectsUnknownTicker(t *testing.T) {
	inv := validInvoice()
	inv.TickerHash = "unknown-hash"
	reason, ok := Validate(testCfg(), inv, "0xmark", time.Now())
	assert.False(t, ok)
	assert.Equal(t, domain.RejectInvalidTickers, reason)
}

func TestValidate_RejectsStaleInvoice(t *testing.T) {
	inv := validInvoice()
	inv.CreatedAt = time.Now().Add(-30 * 24 * time.Hour).Unix()
	reason, ok := Validate(testCfg(), inv, "0xmark", time.Now())
	assert.False(t, ok)
	assert.Equal(t, domain.RejectTooOld, reason)
}
