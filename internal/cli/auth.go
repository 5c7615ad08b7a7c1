package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// addAuthCommands adds session management commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLoginCmd(app))
	rootCmd.AddCommand(newLogoutCmd(app))
	rootCmd.AddCommand(newAuthStatusCmd(app))
}

func newLoginCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Exchange the configured secret key for an access token",
		Long: `Login to the Public.com API.

Exchanges the secret key from credentials.toml for an access token and
persists the session so later commands reuse it.`,
		Example: `  public-trader login`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initClient(); err != nil {
				return err
			}
			defer app.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cred, err := app.Provider.GetToken(ctx)
			if err != nil {
				output.Error("Login failed: %v", err)
				return err
			}

			if app.Store != nil {
				if err := app.Store.SaveSession(ctx, cred); err != nil {
					output.Warning("Session not persisted: %v", err)
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"status":    "authenticated",
					"expiresAt": cred.ExpiresAt(),
				})
			}
			output.Success("Login successful")
			output.Printf("Token valid until %s\n", cred.ExpiresAt().Format(time.RFC3339))
			return nil
		},
	}
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initClient(); err != nil {
				return err
			}
			defer app.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if app.Store != nil {
				if err := app.Store.ClearSession(ctx); err != nil {
					output.Warning("Failed to clear persisted session: %v", err)
				}
			}
			if err := app.Provider.RevokeToken(ctx); err != nil {
				output.Warning("Server-side revocation failed: %v", err)
			}
			output.Success("Logged out")
			return nil
		},
	}
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "auth-status",
		Short: "Show the persisted session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initStore(); err != nil {
				return err
			}
			defer app.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			cred, ok, err := app.Store.LoadSession(ctx)
			if err != nil {
				return err
			}
			if !ok {
				output.Warning("Not logged in")
				return nil
			}

			expired := cred.ExpiredWithBuffer(time.Now(), 0)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"authenticated": !expired,
					"issuedAt":      cred.IssuedAt,
					"expiresAt":     cred.ExpiresAt(),
				})
			}
			if expired {
				output.Warning("Session expired at %s", cred.ExpiresAt().Format(time.RFC3339))
				return nil
			}
			output.Success("Authenticated")
			output.Printf("Token valid until %s\n", cred.ExpiresAt().Format(time.RFC3339))
			return nil
		},
	}
}
