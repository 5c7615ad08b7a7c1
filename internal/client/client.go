// Package client provides the high-level Public.com trading API client.
package client

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"public-trader/internal/api"
	"public-trader/internal/auth"
	apperrors "public-trader/internal/errors"
	"public-trader/internal/models"
	"public-trader/internal/subscription"
)

const (
	tradingBase    = "/userapigateway/trading"
	marketdataBase = "/userapigateway/marketdata"
)

// Config holds client-level configuration.
type Config struct {
	// DefaultAccountID is used when a call does not pass an explicit
	// account id.
	DefaultAccountID string
	// Transitions overrides the default order lifecycle table.
	Transitions models.TransitionTable
}

// Client is the high-level trading API client. It owns the order and price
// subscription engines and refreshes credentials before every call.
type Client struct {
	api      *api.Client
	provider auth.Provider
	log      zerolog.Logger

	defaultAccount string

	orders *subscription.Engine
	prices *subscription.PriceEngine
}

// New creates a trading client on top of an API client and auth provider.
func New(apiClient *api.Client, provider auth.Provider, cfg Config, log zerolog.Logger) *Client {
	c := &Client{
		api:            apiClient,
		provider:       provider,
		log:            log,
		defaultAccount: cfg.DefaultAccountID,
	}
	c.orders = subscription.NewEngine(c.fetchOrder, cfg.Transitions, log)
	c.prices = subscription.NewPriceEngine(c.fetchQuotes, log)
	c.prices.Start()
	return c
}

// Orders exposes the order subscription engine.
func (c *Client) Orders() *subscription.Engine {
	return c.orders
}

// Prices exposes the price subscription engine.
func (c *Client) Prices() *subscription.PriceEngine {
	return c.prices
}

// Close stops both subscription engines and releases the API client.
// All poll loops have exited by the time it returns.
func (c *Client) Close() {
	c.orders.Stop()
	c.prices.Stop()
	c.api.Close()
}

// ensureAuth refreshes the credential if needed and installs the bearer
// token for the upcoming request.
func (c *Client) ensureAuth(ctx context.Context) error {
	cred, err := c.provider.GetToken(ctx)
	if err != nil {
		return err
	}
	c.api.SetAuthToken(cred.AccessToken)
	return nil
}

// accountID resolves an explicit account id against the configured default.
func (c *Client) accountID(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if c.defaultAccount != "" {
		return c.defaultAccount, nil
	}
	return "", apperrors.ErrNoAccount
}

// GetAccounts lists the accounts visible to the credential.
func (c *Client) GetAccounts(ctx context.Context) ([]models.Account, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Accounts []models.Account `json:"accounts"`
	}
	if err := c.api.Get(ctx, tradingBase+"/account", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// GetPortfolio returns the account snapshot with positions and open orders.
func (c *Client) GetPortfolio(ctx context.Context, accountID string) (*models.Portfolio, error) {
	acct, err := c.accountID(accountID)
	if err != nil {
		return nil, err
	}
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	var portfolio models.Portfolio
	path := fmt.Sprintf("%s/%s/portfolio/v2", tradingBase, acct)
	if err := c.api.Get(ctx, path, nil, &portfolio); err != nil {
		return nil, err
	}
	return &portfolio, nil
}

// GetQuotes fetches quotes for a batch of instruments.
func (c *Client) GetQuotes(ctx context.Context, instruments []models.Instrument, accountID string) ([]models.Quote, error) {
	if len(instruments) == 0 {
		return nil, apperrors.NewValidationError("instruments", "at least one instrument is required")
	}
	acct, err := c.accountID(accountID)
	if err != nil {
		return nil, err
	}
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	req := struct {
		Instruments []models.Instrument `json:"instruments"`
	}{Instruments: instruments}
	var resp struct {
		Quotes []models.Quote `json:"quotes"`
	}
	path := fmt.Sprintf("%s/%s/quotes", marketdataBase, acct)
	if err := c.api.Post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return resp.Quotes, nil
}

// HistoryRequest filters account history.
type HistoryRequest struct {
	PageSize  int    `url:"pageSize,omitempty"`
	PageToken string `url:"pageToken,omitempty"`
	Symbol    string `url:"symbol,omitempty"`
}

// GetHistory returns one page of account transaction history.
func (c *Client) GetHistory(ctx context.Context, req *HistoryRequest, accountID string) (*models.HistoryPage, error) {
	acct, err := c.accountID(accountID)
	if err != nil {
		return nil, err
	}
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	var page models.HistoryPage
	path := fmt.Sprintf("%s/%s/history", tradingBase, acct)
	var params interface{}
	if req != nil {
		params = req
	}
	if err := c.api.Get(ctx, path, params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetInstrument returns trading availability for one instrument.
func (c *Client) GetInstrument(ctx context.Context, symbol string, instrType models.InstrumentType) (*models.Instrument, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Instrument models.Instrument `json:"instrument"`
	}
	path := fmt.Sprintf("%s/instruments/%s/%s", tradingBase, symbol, instrType)
	if err := c.api.Get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Instrument, nil
}

// GetAllInstruments lists every tradeable instrument.
func (c *Client) GetAllInstruments(ctx context.Context) ([]models.Instrument, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Instruments []models.Instrument `json:"instruments"`
	}
	if err := c.api.Get(ctx, tradingBase+"/instruments", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instruments, nil
}

// GetOptionExpirations lists listed option expirations for an underlying.
func (c *Client) GetOptionExpirations(ctx context.Context, instrument models.Instrument, accountID string) (*models.OptionExpirations, error) {
	acct, err := c.accountID(accountID)
	if err != nil {
		return nil, err
	}
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	req := struct {
		Instrument models.Instrument `json:"instrument"`
	}{Instrument: instrument}
	var resp models.OptionExpirations
	path := fmt.Sprintf("%s/%s/option-expirations", marketdataBase, acct)
	if err := c.api.Post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOptionChain fetches the option chain for an underlying at one
// expiration date (YYYY-MM-DD).
func (c *Client) GetOptionChain(ctx context.Context, instrument models.Instrument, expiration, accountID string) (*models.OptionChain, error) {
	acct, err := c.accountID(accountID)
	if err != nil {
		return nil, err
	}
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	req := struct {
		Instrument models.Instrument `json:"instrument"`
		Expiration string            `json:"expirationDate"`
	}{Instrument: instrument, Expiration: expiration}
	var resp models.OptionChain
	path := fmt.Sprintf("%s/%s/option-chain", marketdataBase, acct)
	if err := c.api.Post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOptionGreeks fetches greeks for option contracts by OSI symbol.
func (c *Client) GetOptionGreeks(ctx context.Context, osiSymbols []string, accountID string) ([]models.OptionGreeks, error) {
	acct, err := c.accountID(accountID)
	if err != nil {
		return nil, err
	}
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	params := struct {
		Symbols []string `url:"symbol"`
	}{Symbols: osiSymbols}
	var resp struct {
		Greeks []models.OptionGreeks `json:"greeks"`
	}
	path := fmt.Sprintf("%s/%s/greeks", marketdataBase, acct)
	if err := c.api.Get(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	return resp.Greeks, nil
}

// fetchOrder is the order subscription engine's fetcher.
func (c *Client) fetchOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return c.GetOrder(ctx, orderID, "")
}

// fetchQuotes is the price subscription engine's fetcher.
func (c *Client) fetchQuotes(ctx context.Context, instruments []models.Instrument) ([]models.Quote, error) {
	return c.GetQuotes(ctx, instruments, "")
}
