package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"public-trader/internal/models"
	"public-trader/internal/subscription"
)

// NewOrderID returns a client-generated order id.
func NewOrderID() string {
	return uuid.NewString()
}

// PlaceOrder validates and submits a single-leg order, returning a handle
// for lifecycle operations.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest, accountID string) (*PlacedOrder, error) {
	if err := req.Validate(time.Now()); err != nil {
		return nil, err
	}
	return c.submitOrder(ctx, req, accountID, "order")
}

// PlaceMultilegOrder validates and submits a multi-leg order.
func (c *Client) PlaceMultilegOrder(ctx context.Context, req models.OrderRequest, accountID string) (*PlacedOrder, error) {
	if err := req.Validate(time.Now()); err != nil {
		return nil, err
	}
	return c.submitOrder(ctx, req, accountID, "order/multileg")
}

func (c *Client) submitOrder(ctx context.Context, req models.OrderRequest, accountID, endpoint string) (*PlacedOrder, error) {
	acct, err := c.accountID(accountID)
	if err != nil {
		return nil, err
	}
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}

	var resp struct {
		OrderID string `json:"orderId"`
	}
	path := fmt.Sprintf("%s/%s/%s", tradingBase, acct, endpoint)
	if err := c.api.Post(ctx, path, req, &resp); err != nil {
		return nil, err
	}

	c.log.Info().
		Str("order_id", resp.OrderID).
		Str("symbol", req.Instrument.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Msg("Order placed")

	return &PlacedOrder{client: c, orderID: resp.OrderID, accountID: acct}, nil
}

// GetOrder fetches the current state of an order.
func (c *Client) GetOrder(ctx context.Context, orderID, accountID string) (*models.Order, error) {
	acct, err := c.accountID(accountID)
	if err != nil {
		return nil, err
	}
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	var order models.Order
	path := fmt.Sprintf("%s/%s/order/%s", tradingBase, acct, orderID)
	if err := c.api.Get(ctx, path, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder requests cancellation of a working order.
func (c *Client) CancelOrder(ctx context.Context, orderID, accountID string) error {
	acct, err := c.accountID(accountID)
	if err != nil {
		return err
	}
	if err := c.ensureAuth(ctx); err != nil {
		return err
	}
	path := fmt.Sprintf("%s/%s/order/%s", tradingBase, acct, orderID)
	if err := c.api.Delete(ctx, path); err != nil {
		return err
	}
	c.log.Info().Str("order_id", orderID).Msg("Order cancellation requested")
	return nil
}

// PreflightRequest estimates cost for an order before it is placed.
type PreflightRequest struct {
	Instrument models.Instrument      `json:"instrument"`
	Side       models.OrderSide       `json:"side"`
	Type       models.OrderType       `json:"type"`
	Expiration models.OrderExpiration `json:"expiration"`
	Quantity   float64                `json:"quantity,string"`
	LimitPrice *float64               `json:"limitPrice,string,omitempty"`
}

// Preflight runs the single-leg preflight calculation.
func (c *Client) Preflight(ctx context.Context, req PreflightRequest, accountID string) (*models.PreflightResult, error) {
	acct, err := c.accountID(accountID)
	if err != nil {
		return nil, err
	}
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	var result models.PreflightResult
	path := fmt.Sprintf("%s/%s/preflight/single-leg", tradingBase, acct)
	if err := c.api.Post(ctx, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PlacedOrder is a handle to a submitted order, carrying its subscription
// registration so callers can follow the order's lifecycle.
type PlacedOrder struct {
	client    *Client
	orderID   string
	accountID string
	handle    subscription.Handle
}

// ID returns the order id.
func (o *PlacedOrder) ID() string {
	return o.orderID
}

// AccountID returns the account the order was placed against.
func (o *PlacedOrder) AccountID() string {
	return o.accountID
}

// SubscribeUpdates registers a callback for this order's updates.
func (o *PlacedOrder) SubscribeUpdates(config models.SubscriptionConfig, callback subscription.OrderCallback) (subscription.Handle, error) {
	h, err := o.client.orders.Subscribe(o.orderID, config, callback)
	if err != nil {
		return "", err
	}
	o.handle = h
	return h, nil
}

// Unsubscribe removes the registration created by SubscribeUpdates.
func (o *PlacedOrder) Unsubscribe() error {
	if o.handle == "" {
		return nil
	}
	err := o.client.orders.Unsubscribe(o.handle)
	o.handle = ""
	return err
}

// Cancel requests cancellation of the order.
func (o *PlacedOrder) Cancel(ctx context.Context) error {
	return o.client.CancelOrder(ctx, o.orderID, o.accountID)
}

// GetStatus fetches the order's current status.
func (o *PlacedOrder) GetStatus(ctx context.Context) (models.OrderStatus, error) {
	order, err := o.client.GetOrder(ctx, o.orderID, o.accountID)
	if err != nil {
		return "", err
	}
	return order.Status, nil
}

// WaitForStatus blocks until the order reaches one of the target statuses.
func (o *PlacedOrder) WaitForStatus(ctx context.Context, targets []models.OrderStatus, timeout time.Duration) (models.Order, error) {
	return o.client.orders.WaitForStatus(ctx, o.orderID, targets, timeout)
}

// WaitForFill blocks until the order is fully filled.
func (o *PlacedOrder) WaitForFill(ctx context.Context, timeout time.Duration) (models.Order, error) {
	return o.client.orders.WaitForFill(ctx, o.orderID, timeout)
}

// WaitForTerminalStatus blocks until the order reaches a terminal status.
func (o *PlacedOrder) WaitForTerminalStatus(ctx context.Context, timeout time.Duration) (models.Order, error) {
	return o.client.orders.WaitForTerminalStatus(ctx, o.orderID, timeout)
}
