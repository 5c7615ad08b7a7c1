package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"public-trader/internal/api"
	"public-trader/internal/auth"
	"public-trader/internal/client"
	"public-trader/internal/config"
	"public-trader/internal/models"
	"public-trader/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Client   *client.Client
	Provider auth.Provider
	Store    *store.SQLiteStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "public-trader",
		Short: "Public.com trading CLI",
		Long: `public-trader is a command-line client for the Public.com trading API.

It places and tracks orders, streams order and quote updates by polling,
and manages the API session.

Use 'public-trader help <command>' for more information about a command.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/public-trader)")
	rootCmd.PersistentFlags().String("account", "", "account ID (default: configured account)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addAuthCommands(rootCmd, app)
	addOrderCommands(rootCmd, app)
	addMarketCommands(rootCmd, app)

	return rootCmd
}

// initClient builds the API client stack on first use. Commands that talk
// to the API call this in their RunE.
func (app *App) initClient() error {
	if app.Client != nil {
		return nil
	}

	apiClient, err := api.New(api.Config{
		BaseURL:           app.Config.API.BaseURL,
		Timeout:           app.Config.API.Timeout,
		RequestsPerSecond: app.Config.API.RequestsPerSecond,
		Logger:            app.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating API client: %w", err)
	}

	provider, err := auth.NewApiKeyProvider(apiClient, auth.ApiKeyConfig{
		SecretKey:    app.Config.Credentials.APISecretKey,
		Validity:     time.Duration(app.Config.Auth.TokenValidityMinutes) * time.Minute,
		ExpiryBuffer: time.Duration(app.Config.Auth.ExpiryBufferMinutes) * time.Minute,
	}, app.Logger)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}
	app.Provider = provider

	app.Client = client.New(apiClient, provider, client.Config{
		DefaultAccountID: app.Config.API.DefaultAccountID,
	}, app.Logger)

	if err := app.initStore(); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to initialize store, session persistence disabled")
	} else {
		app.restoreSession()
	}
	return nil
}

func (app *App) initStore() error {
	if app.Store != nil {
		return nil
	}
	dir := app.Config.Dir
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	s, err := store.NewSQLiteStore(dir + "/trader.db")
	if err != nil {
		return err
	}
	app.Store = s
	return nil
}

// restoreSession installs the persisted session into the auth provider so
// commands reuse the token from a previous login instead of exchanging the
// secret key again.
func (app *App) restoreSession() {
	cred, ok, err := app.Store.LoadSession(context.Background())
	if err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to load persisted session")
		return
	}
	if !ok {
		return
	}
	buffer := time.Duration(app.Config.Auth.ExpiryBufferMinutes) * time.Minute
	if cred.ExpiredWithBuffer(time.Now(), buffer) {
		app.Logger.Debug().Msg("Persisted session expired, a fresh token will be exchanged")
		return
	}
	app.Provider.SetToken(cred)
	app.Logger.Debug().Time("expires_at", cred.ExpiresAt()).Msg("Restored persisted session")
}

// subscriptionConfig maps the configured polling defaults into a
// subscription config.
func (app *App) subscriptionConfig() models.SubscriptionConfig {
	cfg := models.DefaultSubscriptionConfig()
	if app.Config.Subscription.PollingInterval > 0 {
		cfg.PollingInterval = app.Config.Subscription.PollingInterval
	}
	cfg.RetryOnError = app.Config.Subscription.RetryOnError
	if app.Config.Subscription.MaxRetries > 0 {
		cfg.MaxRetries = app.Config.Subscription.MaxRetries
	}
	return cfg
}

func (app *App) close() {
	if app.Client != nil {
		app.Client.Close()
	}
	if app.Store != nil {
		app.Store.Close()
	}
}
