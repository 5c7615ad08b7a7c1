package models

import (
	"strconv"
	"time"

	apperrors "public-trader/internal/errors"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is valid from the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// TerminalStatuses returns the set of terminal order statuses.
func TerminalStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusFilled,
		OrderStatusCancelled,
		OrderStatusRejected,
		OrderStatusExpired,
	}
}

// TransitionTable maps each status to the statuses reachable from it.
// The table is a plain value so callers with a broker that uses a different
// lifecycle can supply their own.
type TransitionTable map[OrderStatus][]OrderStatus

// DefaultTransitionTable returns the standard brokerage order lifecycle.
func DefaultTransitionTable() TransitionTable {
	return TransitionTable{
		OrderStatusNew: {
			OrderStatusOpen,
			OrderStatusPartiallyFilled,
			OrderStatusFilled,
			OrderStatusCancelled,
			OrderStatusRejected,
			OrderStatusExpired,
		},
		OrderStatusOpen: {
			OrderStatusPartiallyFilled,
			OrderStatusFilled,
			OrderStatusCancelled,
			OrderStatusExpired,
		},
		OrderStatusPartiallyFilled: {
			OrderStatusFilled,
			OrderStatusCancelled,
			OrderStatusExpired,
		},
		OrderStatusFilled:    nil,
		OrderStatusCancelled: nil,
		OrderStatusRejected:  nil,
		OrderStatusExpired:   nil,
	}
}

// CanTransition reports whether to is reachable from from.
func (t TransitionTable) CanTransition(from, to OrderStatus) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply validates a status change. Transitions out of a terminal status and
// transitions not present in the table both return an InvalidTransitionError
// so polling loops can drop stale snapshots without failing.
func (t TransitionTable) Apply(from, to OrderStatus) (OrderStatus, error) {
	if from == to {
		return from, nil
	}
	if from.IsTerminal() {
		return from, apperrors.NewInvalidTransitionError(string(from), string(to), "status is terminal")
	}
	if !t.CanTransition(from, to) {
		return from, apperrors.NewInvalidTransitionError(string(from), string(to), "transition not in table")
	}
	return to, nil
}

// OrderLeg is one leg of a multi-leg order.
type OrderLeg struct {
	Instrument Instrument `json:"instrument"`
	Side       OrderSide  `json:"side"`
	// RatioQuantity is the per-unit quantity of this leg relative to the
	// order quantity.
	RatioQuantity int `json:"ratioQuantity"`
}

// OrderRequest is a client-constructed order to be placed.
type OrderRequest struct {
	OrderID    string          `json:"orderId"`
	Instrument Instrument      `json:"instrument"`
	Side       OrderSide       `json:"side"`
	Type       OrderType       `json:"type"`
	Expiration OrderExpiration `json:"expiration"`
	Quantity   float64         `json:"quantity,string"`
	LimitPrice *float64        `json:"limitPrice,string,omitempty"`
	StopPrice  *float64        `json:"stopPrice,string,omitempty"`
	// Legs is set only for multi-leg orders.
	Legs []OrderLeg `json:"legs,omitempty"`
}

// Validate checks field combinations and reports every violated constraint,
// not just the first.
func (r *OrderRequest) Validate(now time.Time) error {
	var v apperrors.ValidationError

	if r.OrderID == "" {
		v.Add("orderId", "order id is required")
	}
	if len(r.Legs) == 0 && r.Instrument.Symbol == "" {
		v.Add("instrument.symbol", "symbol is required")
	}
	if r.Side != OrderSideBuy && r.Side != OrderSideSell {
		v.Add("side", "side must be BUY or SELL")
	}
	if r.Quantity <= 0 {
		v.Add("quantity", "quantity must be positive")
	}

	switch r.Type {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
	default:
		v.Add("type", "unknown order type")
	}

	if r.Type.RequiresLimitPrice() {
		if r.LimitPrice == nil {
			v.Add("limitPrice", "limit price is required for "+string(r.Type)+" orders")
		} else if *r.LimitPrice <= 0 {
			v.Add("limitPrice", "limit price must be positive")
		}
	} else if r.LimitPrice != nil {
		v.Add("limitPrice", "limit price is not allowed for "+string(r.Type)+" orders")
	}

	if r.Type.RequiresStopPrice() {
		if r.StopPrice == nil {
			v.Add("stopPrice", "stop price is required for "+string(r.Type)+" orders")
		} else if *r.StopPrice <= 0 {
			v.Add("stopPrice", "stop price must be positive")
		}
	} else if r.StopPrice != nil {
		v.Add("stopPrice", "stop price is not allowed for "+string(r.Type)+" orders")
	}

	switch r.Expiration.TimeInForce {
	case TimeInForceDay:
		if r.Expiration.ExpirationTime != nil {
			v.Add("expiration.expirationTime", "DAY orders must not set an expiration time")
		}
	case TimeInForceGTD:
		if r.Expiration.ExpirationTime == nil {
			v.Add("expiration.expirationTime", "GTD orders require an expiration time")
		} else if !r.Expiration.ExpirationTime.After(now) {
			v.Add("expiration.expirationTime", "GTD expiration must be in the future")
		}
	default:
		v.Add("expiration.timeInForce", "time in force must be DAY or GTD")
	}

	validateLegs(r.Legs, &v)

	if v.HasViolations() {
		return &v
	}
	return nil
}

// validateLegs rejects degenerate multi-leg compositions.
func validateLegs(legs []OrderLeg, v *apperrors.ValidationError) {
	if len(legs) == 0 {
		return
	}
	if len(legs) < 2 {
		v.Add("legs", "multi-leg orders require at least two legs")
	}
	seen := make(map[string]bool, len(legs))
	for i, leg := range legs {
		field := "legs[" + strconv.Itoa(i) + "]"
		if leg.Instrument.Symbol == "" {
			v.Add(field+".instrument.symbol", "leg symbol is required")
		}
		if leg.Side != OrderSideBuy && leg.Side != OrderSideSell {
			v.Add(field+".side", "leg side must be BUY or SELL")
		}
		if leg.RatioQuantity <= 0 {
			v.Add(field+".ratioQuantity", "leg ratio quantity must be positive")
		}
		key := leg.Instrument.Key() + ":" + string(leg.Side)
		if seen[key] {
			v.Add(field, "duplicate leg for "+leg.Instrument.Symbol+" "+string(leg.Side))
		}
		seen[key] = true
	}
}

// Order represents an order as reported by the API.
type Order struct {
	OrderID        string          `json:"orderId"`
	Instrument     Instrument      `json:"instrument"`
	Type           OrderType       `json:"type"`
	Side           OrderSide       `json:"side"`
	Status         OrderStatus     `json:"status"`
	Quantity       float64         `json:"quantity,string"`
	FilledQuantity float64         `json:"filledQuantity,string,omitempty"`
	LimitPrice     *float64        `json:"limitPrice,string,omitempty"`
	StopPrice      *float64        `json:"stopPrice,string,omitempty"`
	AveragePrice   float64         `json:"averagePrice,string,omitempty"`
	RejectReason   string          `json:"rejectReason,omitempty"`
	Expiration     OrderExpiration `json:"expiration,omitempty"`
	Legs           []OrderLeg      `json:"legs,omitempty"`
	CreatedAt      time.Time       `json:"createdAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt,omitempty"`
}

// IsFullyFilled reports whether the order's filled quantity covers the
// ordered quantity.
func (o *Order) IsFullyFilled() bool {
	if o.Status == OrderStatusFilled {
		return true
	}
	return o.Quantity > 0 && o.FilledQuantity >= o.Quantity
}

// OrderUpdate is an immutable point-in-time snapshot produced by polling.
type OrderUpdate struct {
	OrderID        string
	OldStatus      OrderStatus
	NewStatus      OrderStatus
	FilledQuantity float64
	Timestamp      time.Time
	// Order is the snapshot the update was derived from.
	Order Order
}
