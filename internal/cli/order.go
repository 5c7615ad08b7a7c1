package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"public-trader/internal/client"
	apperrors "public-trader/internal/errors"
	"public-trader/internal/models"
	"public-trader/pkg/utils"
)

// addOrderCommands adds order lifecycle commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	orderCmd := &cobra.Command{
		Use:   "order",
		Short: "Place, inspect and cancel orders",
	}
	orderCmd.AddCommand(newOrderPlaceCmd(app))
	orderCmd.AddCommand(newOrderStatusCmd(app))
	orderCmd.AddCommand(newOrderCancelCmd(app))
	orderCmd.AddCommand(newOrderWatchCmd(app))
	orderCmd.AddCommand(newOrderEventsCmd(app))
	rootCmd.AddCommand(orderCmd)
}

func newOrderPlaceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "place SYMBOL",
		Short: "Place an order",
		Example: `  public-trader order place AAPL --side buy --qty 10
  public-trader order place AAPL --side sell --qty 5 --type limit --limit 198.50
  public-trader order place AAPL --side buy --qty 1 --type limit --limit 190 --tif GTD --expires 2026-09-30T16:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initClient(); err != nil {
				return err
			}
			defer app.close()

			req, err := orderRequestFromFlags(cmd, args[0])
			if err != nil {
				return err
			}

			accountID, _ := cmd.Flags().GetString("account")
			placed, err := app.Client.PlaceOrder(cmd.Context(), req, accountID)
			if err != nil {
				var verr *apperrors.ValidationError
				if apperrors.As(err, &verr) {
					for _, v := range verr.Violations {
						output.Error("%s: %s", v.Field, v.Message)
					}
					return err
				}
				output.Error("Order rejected: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"orderId": placed.ID()})
			}
			output.Success("Order placed: %s", placed.ID())

			wait, _ := cmd.Flags().GetDuration("wait")
			if wait > 0 {
				order, err := placed.WaitForTerminalStatus(cmd.Context(), wait)
				if err != nil {
					output.Warning("%v", err)
					return nil
				}
				printOrder(output, &order)
			}
			return nil
		},
	}

	cmd.Flags().String("side", "buy", "order side (buy|sell)")
	cmd.Flags().Float64("qty", 0, "quantity (shares, fractional allowed)")
	cmd.Flags().String("type", "market", "order type (market|limit|stop|stop_limit)")
	cmd.Flags().Float64("limit", 0, "limit price")
	cmd.Flags().Float64("stop", 0, "stop price")
	cmd.Flags().String("tif", "DAY", "time in force (DAY|GTD)")
	cmd.Flags().String("expires", "", "expiration time for GTD orders (RFC3339)")
	cmd.Flags().Duration("wait", 0, "wait up to this long for a terminal status")
	cmd.MarkFlagRequired("qty")
	return cmd
}

func orderRequestFromFlags(cmd *cobra.Command, symbol string) (models.OrderRequest, error) {
	side, _ := cmd.Flags().GetString("side")
	qty, _ := cmd.Flags().GetFloat64("qty")
	orderType, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetFloat64("limit")
	stop, _ := cmd.Flags().GetFloat64("stop")
	tif, _ := cmd.Flags().GetString("tif")
	expires, _ := cmd.Flags().GetString("expires")

	req := models.OrderRequest{
		OrderID: client.NewOrderID(),
		Instrument: models.Instrument{
			Symbol: strings.ToUpper(symbol),
			Type:   models.InstrumentEquity,
		},
		Side:     models.OrderSide(strings.ToUpper(side)),
		Type:     models.OrderType(strings.ToUpper(orderType)),
		Quantity: qty,
		Expiration: models.OrderExpiration{
			TimeInForce: models.TimeInForce(strings.ToUpper(tif)),
		},
	}
	if cmd.Flags().Changed("limit") {
		req.LimitPrice = &limit
	}
	if cmd.Flags().Changed("stop") {
		req.StopPrice = &stop
	}
	if expires != "" {
		t, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return models.OrderRequest{}, fmt.Errorf("invalid --expires value: %w", err)
		}
		req.Expiration.ExpirationTime = &t
	}
	return req, nil
}

func newOrderStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status ORDER_ID",
		Short: "Show the current state of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initClient(); err != nil {
				return err
			}
			defer app.close()

			accountID, _ := cmd.Flags().GetString("account")
			order, err := app.Client.GetOrder(cmd.Context(), args[0], accountID)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(order)
			}
			printOrder(output, order)
			return nil
		},
	}
}

func newOrderCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Request cancellation of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initClient(); err != nil {
				return err
			}
			defer app.close()

			accountID, _ := cmd.Flags().GetString("account")
			if err := app.Client.CancelOrder(cmd.Context(), args[0], accountID); err != nil {
				return err
			}
			output.Success("Cancellation requested for %s", args[0])
			return nil
		},
	}
}

func newOrderWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch ORDER_ID",
		Short: "Poll an order and print updates until it reaches a terminal status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initClient(); err != nil {
				return err
			}
			defer app.close()

			timeout, _ := cmd.Flags().GetDuration("timeout")
			orderID := args[0]

			handle, err := app.Client.Orders().Subscribe(orderID, app.subscriptionConfig(), func(update models.OrderUpdate) {
				output.Printf("%s  %s -> %s  filled %s\n",
					update.Timestamp.Format(time.RFC3339),
					update.OldStatus, update.NewStatus,
					utils.FormatQuantity(update.FilledQuantity))
				if app.Store != nil {
					if err := app.Store.RecordOrderEvent(context.Background(), update); err != nil {
						app.Logger.Warn().Err(err).Msg("Failed to journal order event")
					}
				}
			})
			if err != nil {
				return err
			}
			defer app.Client.Orders().Unsubscribe(handle)

			order, err := app.Client.Orders().WaitForTerminalStatus(cmd.Context(), orderID, timeout)
			if err != nil {
				return err
			}
			printOrder(output, &order)
			return nil
		},
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().Duration("timeout", 5*time.Minute, "give up after this long")
	return cmd
}

func newOrderEventsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "events ORDER_ID",
		Short: "Show the journaled update history of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initStore(); err != nil {
				return err
			}
			defer app.close()

			events, err := app.Store.OrderEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(events)
			}
			if len(events) == 0 {
				output.Dim("No journaled events for %s", args[0])
				return nil
			}
			for _, e := range events {
				output.Printf("%s  %s -> %s  filled %s\n",
					e.Timestamp.Format(time.RFC3339),
					e.OldStatus, e.NewStatus,
					utils.FormatQuantity(e.FilledQuantity))
			}
			return nil
		},
	}
}

func printOrder(output *Output, order *models.Order) {
	output.Bold("%s  %s", order.OrderID, order.Status)
	output.Printf("  filled: %s", utils.FormatQuantity(order.FilledQuantity))
	if order.AveragePrice > 0 {
		output.Printf(" @ %s", utils.FormatUSD(order.AveragePrice))
	}
	output.Println()
	if order.RejectReason != "" {
		output.Error("  reject reason: %s", order.RejectReason)
	}
}
