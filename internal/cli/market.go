package cli

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"public-trader/internal/client"
	"public-trader/internal/models"
	"public-trader/pkg/utils"
)

// addMarketCommands adds account and market data commands.
func addMarketCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newAccountsCmd(app))
	rootCmd.AddCommand(newPortfolioCmd(app))
	rootCmd.AddCommand(newQuoteCmd(app))
	rootCmd.AddCommand(newWatchQuotesCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
}

func newAccountsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List brokerage accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initClient(); err != nil {
				return err
			}
			defer app.close()

			accounts, err := app.Client.GetAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(accounts)
			}
			for _, a := range accounts {
				output.Printf("%s  %s", a.AccountID, a.AccountType)
				if a.OptionsLevel != "" {
					output.Printf("  options: %s", a.OptionsLevel)
				}
				output.Println()
			}
			return nil
		},
	}
}

func newPortfolioCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show positions, buying power and open orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initClient(); err != nil {
				return err
			}
			defer app.close()

			accountID, _ := cmd.Flags().GetString("account")
			portfolio, err := app.Client.GetPortfolio(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(portfolio)
			}

			output.Bold("Account %s (%s)", portfolio.AccountID, portfolio.AccountType)
			output.Printf("Buying power: %s (options: %s)\n",
				utils.FormatUSD(portfolio.BuyingPower.BuyingPower),
				utils.FormatUSD(portfolio.BuyingPower.OptionsBuyingPower))

			if len(portfolio.Positions) > 0 {
				output.Println()
				output.Bold("Positions")
				for _, p := range portfolio.Positions {
					output.Printf("  %-8s %10s @ %s = %s\n",
						p.Instrument.Symbol,
						utils.FormatQuantity(p.Quantity),
						utils.FormatUSD(p.LastPrice),
						utils.FormatUSD(p.CurrentValue))
				}
			}
			if len(portfolio.Orders) > 0 {
				output.Println()
				output.Bold("Open orders")
				for _, o := range portfolio.Orders {
					output.Printf("  %s  %-8s %s %s  %s\n",
						o.OrderID, o.Instrument.Symbol, o.Side, utils.FormatQuantity(o.Quantity), o.Status)
				}
			}
			return nil
		},
	}
}

func newQuoteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL...",
		Short: "Fetch quotes for one or more symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initClient(); err != nil {
				return err
			}
			defer app.close()

			accountID, _ := cmd.Flags().GetString("account")
			quotes, err := app.Client.GetQuotes(cmd.Context(), instrumentsFromArgs(args), accountID)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(quotes)
			}
			for _, q := range quotes {
				printQuote(output, q)
			}
			return nil
		},
	}
}

func newWatchQuotesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch-quotes SYMBOL...",
		Short: "Poll quotes and print updates until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initClient(); err != nil {
				return err
			}
			defer app.close()

			_, err := app.Client.Prices().Subscribe(instrumentsFromArgs(args), app.subscriptionConfig(), func(update models.QuoteUpdate) {
				printQuote(output, update.Current)
			})
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sigCh:
			case <-cmd.Context().Done():
			}
			app.Client.Prices().UnsubscribeAll()
			return nil
		},
	}
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show account transaction history",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initClient(); err != nil {
				return err
			}
			defer app.close()

			accountID, _ := cmd.Flags().GetString("account")
			symbol, _ := cmd.Flags().GetString("symbol")
			pageSize, _ := cmd.Flags().GetInt("page-size")
			pageToken, _ := cmd.Flags().GetString("page-token")

			req := &client.HistoryRequest{
				PageSize:  pageSize,
				PageToken: pageToken,
				Symbol:    strings.ToUpper(symbol),
			}
			page, err := app.Client.GetHistory(cmd.Context(), req, accountID)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(page)
			}
			for _, t := range page.Transactions {
				output.Printf("%s  %-12s %-8s %s\n",
					t.Timestamp.Format(time.RFC3339), t.Type, t.Symbol, utils.FormatUSD(t.Amount))
			}
			if page.NextPageToken != "" {
				output.Dim("next page: --page-token %s", page.NextPageToken)
			}
			return nil
		},
	}
	cmd.Flags().String("symbol", "", "filter by symbol")
	cmd.Flags().Int("page-size", 50, "number of transactions per page")
	cmd.Flags().String("page-token", "", "pagination token from a previous page")
	return cmd
}

func instrumentsFromArgs(args []string) []models.Instrument {
	instruments := make([]models.Instrument, 0, len(args))
	for _, symbol := range args {
		instruments = append(instruments, models.Instrument{
			Symbol: strings.ToUpper(symbol),
			Type:   models.InstrumentEquity,
		})
	}
	return instruments
}

func printQuote(output *Output, q models.Quote) {
	output.Printf("%-8s last %s  bid %s  ask %s  vol %s\n",
		q.Instrument.Symbol,
		utils.FormatUSD(q.Last),
		utils.FormatUSD(q.Bid),
		utils.FormatUSD(q.Ask),
		utils.FormatQuantity(float64(q.Volume)))
}
