package models

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "public-trader/internal/errors"
)

// Property: A request whose fields individually satisfy every constraint
// always validates, and flipping any single constraint always produces a
// violation naming that field.
func TestProperty_OrderRequestValidation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	now := time.Now()
	symbols := []string{"AAPL", "MSFT", "TSLA", "NVDA", "AMZN", "GOOG"}

	symbolIdxGen := gen.IntRange(0, len(symbols)-1)
	qtyGen := gen.Float64Range(0.0001, 10000)
	priceGen := gen.Float64Range(0.01, 5000)
	sideGen := gen.OneConstOf(OrderSideBuy, OrderSideSell)
	typeGen := gen.OneConstOf(OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit)

	buildRequest := func(symbolIdx int, qty float64, price float64, side OrderSide, orderType OrderType) OrderRequest {
		req := OrderRequest{
			OrderID:    "prop-order",
			Instrument: Instrument{Symbol: symbols[symbolIdx], Type: InstrumentEquity},
			Side:       side,
			Type:       orderType,
			Quantity:   qty,
			Expiration: OrderExpiration{TimeInForce: TimeInForceDay},
		}
		if orderType.RequiresLimitPrice() {
			p := price
			req.LimitPrice = &p
		}
		if orderType.RequiresStopPrice() {
			p := price
			req.StopPrice = &p
		}
		return req
	}

	properties.Property("well-formed requests always validate", prop.ForAll(
		func(symbolIdx int, qty float64, price float64, side OrderSide, orderType OrderType) bool {
			req := buildRequest(symbolIdx, qty, price, side, orderType)
			return req.Validate(now) == nil
		},
		symbolIdxGen, qtyGen, priceGen, sideGen, typeGen,
	))

	properties.Property("non-positive quantity always violates quantity", prop.ForAll(
		func(symbolIdx int, qty float64, price float64, side OrderSide, orderType OrderType) bool {
			req := buildRequest(symbolIdx, qty, price, side, orderType)
			req.Quantity = -req.Quantity

			var verr *apperrors.ValidationError
			if !apperrors.As(req.Validate(now), &verr) {
				return false
			}
			return verr.FieldViolated("quantity")
		},
		symbolIdxGen, qtyGen, priceGen, sideGen, typeGen,
	))

	properties.Property("limit price is accepted exactly when the type requires it", prop.ForAll(
		func(symbolIdx int, qty float64, price float64, side OrderSide, orderType OrderType) bool {
			req := buildRequest(symbolIdx, qty, price, side, orderType)

			// Flip the limit price presence.
			if orderType.RequiresLimitPrice() {
				req.LimitPrice = nil
			} else {
				p := price
				req.LimitPrice = &p
			}

			var verr *apperrors.ValidationError
			if !apperrors.As(req.Validate(now), &verr) {
				return false
			}
			return verr.FieldViolated("limitPrice")
		},
		symbolIdxGen, qtyGen, priceGen, sideGen, typeGen,
	))

	properties.TestingRun(t)
}

// Property: terminal statuses admit no outgoing transition to a different
// status, under the default table and regardless of the destination.
func TestProperty_TerminalStatusesAreAbsorbing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	allStatuses := []OrderStatus{
		OrderStatusNew, OrderStatusOpen, OrderStatusPartiallyFilled,
		OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired,
	}
	table := DefaultTransitionTable()

	terminalGen := gen.OneConstOf(
		OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired)
	statusIdxGen := gen.IntRange(0, len(allStatuses)-1)

	properties.Property("no transition leaves a terminal status", prop.ForAll(
		func(from OrderStatus, toIdx int) bool {
			to := allStatuses[toIdx]
			got, err := table.Apply(from, to)
			if from == to {
				return err == nil && got == from
			}
			var terr *apperrors.InvalidTransitionError
			return apperrors.As(err, &terr) && got == from
		},
		terminalGen, statusIdxGen,
	))

	properties.Property("every allowed transition is reflexively consistent with the table", prop.ForAll(
		func(fromIdx, toIdx int) bool {
			from, to := allStatuses[fromIdx], allStatuses[toIdx]
			_, err := table.Apply(from, to)
			if from == to {
				return err == nil
			}
			if table.CanTransition(from, to) {
				return err == nil
			}
			return err != nil
		},
		statusIdxGen, statusIdxGen,
	))

	properties.TestingRun(t)
}
