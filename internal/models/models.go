// Package models provides domain models for the Public.com trading client.
package models

import (
	"time"
)

// InstrumentType represents the asset class of an instrument.
type InstrumentType string

const (
	InstrumentEquity InstrumentType = "EQUITY"
	InstrumentOption InstrumentType = "OPTION"
	InstrumentBond   InstrumentType = "BOND"
	InstrumentCrypto InstrumentType = "CRYPTO"
)

// Instrument identifies a tradeable instrument.
type Instrument struct {
	Symbol string         `json:"symbol" url:"symbol"`
	Name   string         `json:"name,omitempty" url:"-"`
	Type   InstrumentType `json:"type" url:"type"`
}

// Key returns the subscription key for the instrument.
func (i Instrument) Key() string {
	return string(i.Type) + ":" + i.Symbol
}

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// RequiresLimitPrice reports whether orders of this type carry a limit price.
func (t OrderType) RequiresLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// RequiresStopPrice reports whether orders of this type carry a stop price.
func (t OrderType) RequiresStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// TimeInForce represents how long an order stays working.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTD TimeInForce = "GTD"
)

// OrderExpiration pairs a time-in-force with its expiration timestamp.
// GTD requires ExpirationTime; DAY forbids it.
type OrderExpiration struct {
	TimeInForce    TimeInForce `json:"timeInForce"`
	ExpirationTime *time.Time  `json:"expirationTime,omitempty"`
}

// Quote represents a market quote for an instrument.
type Quote struct {
	Instrument Instrument `json:"instrument"`
	Outcome    string     `json:"outcome,omitempty"`
	Last       float64    `json:"last,string"`
	Bid        float64    `json:"bid,string"`
	BidSize    int64      `json:"bidSize,omitempty"`
	Ask        float64    `json:"ask,string"`
	AskSize    int64      `json:"askSize,omitempty"`
	Volume     int64      `json:"volume,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
}

// QuoteUpdate is a point-in-time change notification for a quote
// subscription.
type QuoteUpdate struct {
	Instrument Instrument
	Previous   *Quote
	Current    Quote
	Timestamp  time.Time
}

// Account represents a brokerage account.
type Account struct {
	AccountID    string `json:"accountId"`
	AccountType  string `json:"accountType"`
	OptionsLevel string `json:"optionsLevel,omitempty"`
}

// BuyingPower represents the purchasing capacity of an account.
type BuyingPower struct {
	CashOnlyBuyingPower float64 `json:"cashOnlyBuyingPower,string"`
	BuyingPower         float64 `json:"buyingPower,string"`
	OptionsBuyingPower  float64 `json:"optionsBuyingPower,string"`
}

// Position represents an open position within a portfolio.
type Position struct {
	Instrument   Instrument `json:"instrument"`
	Quantity     float64    `json:"quantity,string"`
	CurrentValue float64    `json:"currentValue,string,omitempty"`
	LastPrice    float64    `json:"lastPrice,string,omitempty"`
	CostBasis    float64    `json:"costBasis,string,omitempty"`
}

// Portfolio represents an account snapshot with positions and open orders.
type Portfolio struct {
	AccountID   string      `json:"accountId"`
	AccountType string      `json:"accountType"`
	BuyingPower BuyingPower `json:"buyingPower"`
	Positions   []Position  `json:"positions"`
	Orders      []Order     `json:"orders"`
}

// HistoryTransaction represents one settled account transaction.
type HistoryTransaction struct {
	TransactionID string    `json:"transactionId"`
	Type          string    `json:"type"`
	Symbol        string    `json:"symbol,omitempty"`
	Amount        float64   `json:"amount,string,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
}

// HistoryPage is one page of account history.
type HistoryPage struct {
	Transactions  []HistoryTransaction `json:"transactions"`
	NextPageToken string               `json:"nextPageToken,omitempty"`
}

// OptionExpirations lists the listed expiration dates for an underlying.
type OptionExpirations struct {
	BaseSymbol  string   `json:"baseSymbol"`
	Expirations []string `json:"expirations"`
}

// OptionChain holds the listed contracts for one underlying and expiration.
type OptionChain struct {
	BaseSymbol string           `json:"baseSymbol"`
	Expiration string           `json:"expiration"`
	Calls      []OptionContract `json:"calls"`
	Puts       []OptionContract `json:"puts"`
}

// OptionContract is a single listed option contract in a chain.
type OptionContract struct {
	Symbol       string  `json:"symbol"`
	StrikePrice  float64 `json:"strikePrice,string"`
	BidPrice     float64 `json:"bidPrice,string"`
	AskPrice     float64 `json:"askPrice,string"`
	OpenInterest int64   `json:"openInterest"`
	Volume       int64   `json:"volume"`
}

// OptionGreeks holds the greeks for a single option contract.
type OptionGreeks struct {
	Symbol            string  `json:"symbol"`
	Delta             float64 `json:"delta,string"`
	Gamma             float64 `json:"gamma,string"`
	Theta             float64 `json:"theta,string"`
	Vega              float64 `json:"vega,string"`
	Rho               float64 `json:"rho,string"`
	ImpliedVolatility float64 `json:"impliedVolatility,string"`
}

// PreflightResult is the estimated cost breakdown for an order before it is
// placed.
type PreflightResult struct {
	Instrument          Instrument `json:"instrument"`
	OrderValue          float64    `json:"orderValue,string"`
	EstimatedCommission float64    `json:"estimatedCommission,string"`
	EstimatedCost       float64    `json:"estimatedCost,string"`
}
