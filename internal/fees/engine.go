package fees

import (
	"fmt"
	"log"

	"github.com/pocketpay/transferd/pkg/transfer"
	"github.com/shopspring/decimal"
)

// tokenDecimals maps token symbols to their precision. Unknown tokens fall
// back to 6, which covers the stablecoins we move.
var tokenDecimals = map[string]int32{
	"USDC": 6,
	"EURC": 6,
}

func decimalsFor(token string) int32 {
	if d, ok := tokenDecimals[token]; ok {
		return d
	}

	return 6
}

// Quote is the full fee picture for one transfer.
type Quote struct {
	ServiceFee         decimal.Decimal `json:"service_fee"`
	NetworkFeeEstimate decimal.Decimal `json:"network_fee_estimate"`
	Total              decimal.Decimal `json:"total"`
}

// Engine computes service and network fees. It is pure: given the same
// amount, chain metadata and provider quote it always produces the same
// output, and it never calls out.
type Engine struct {
	chains transfer.ChainTable

	pct     decimal.Decimal
	minimum decimal.Decimal
	enabled bool
}

func NewEngine(chains transfer.ChainTable, pct, minimum decimal.Decimal, enabled bool) *Engine {
	return &Engine{
		chains:  chains,
		pct:     pct,
		minimum: minimum,
		enabled: enabled,
	}
}

// Quote computes the fees for a transfer. providerQuote may be nil or stale;
// the engine then falls back to the chain's capped default. On a sponsored
// chain the network fee is zero and the level selector is ignored.
func (e *Engine) Quote(amount decimal.Decimal, token string, chainID int64, level transfer.FeeLevel, providerQuote *transfer.FeeQuote) (*Quote, error) {
	chain, ok := e.chains.Get(chainID)
	if !ok {
		return nil, fmt.Errorf("unknown chain: %d", chainID)
	}

	serviceFee := e.serviceFee(amount, token)

	networkFee := decimal.Zero
	if !chain.Sponsored {
		networkFee = e.networkFee(chain, level, providerQuote)
	}

	return &Quote{
		ServiceFee:         serviceFee,
		NetworkFeeEstimate: networkFee,
		Total:              amount.Add(serviceFee).Add(networkFee),
	}, nil
}

func (e *Engine) serviceFee(amount decimal.Decimal, token string) decimal.Decimal {
	if !e.enabled {
		return decimal.Zero
	}

	fee := amount.Mul(e.pct)
	if fee.LessThan(e.minimum) {
		fee = e.minimum
	}

	return fee.Round(decimalsFor(token))
}

func (e *Engine) networkFee(chain transfer.Chain, level transfer.FeeLevel, quote *transfer.FeeQuote) decimal.Decimal {
	if quote == nil {
		return chain.DefaultFee
	}

	if !quote.Ordered() {
		// a quote where low > medium or medium > high is not trustworthy,
		// use the medium tier for every level
		log.Default().Println("rejecting unordered fee quote for chain", chain.ID)
		return e.cap(chain, quote.Medium)
	}

	return e.cap(chain, quote.Level(level))
}

func (e *Engine) cap(chain transfer.Chain, fee decimal.Decimal) decimal.Decimal {
	if chain.DefaultFee.IsPositive() && fee.GreaterThan(chain.DefaultFee) {
		return chain.DefaultFee
	}

	return fee
}
