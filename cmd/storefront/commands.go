package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/fakeapi"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/spf13/cobra"
)

var fakeAPICmd = &cobra.Command{
	Use:   "fakeapi",
	Short: "Serve an in-memory commerce API with demo data",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		api := fakeapi.New()
		seedDemo(api)
		srv := &http.Server{Addr: addr, Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}

		errCh := make(chan error, 1)
		go func() {
			log.Logger.Info().Str("addr", addr).Msg("fake commerce API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-errCh:
			return err
		}

		log.Info("shutting down fake commerce API")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func seedDemo(api *fakeapi.Server) {
	api.AddProduct(domain.Product{ID: "tee", Name: "Cotton tee", Price: 19900,
		Stock: map[domain.Size]int{domain.SizeS: 10, domain.SizeM: 5, domain.SizeL: 0}})
	api.AddProduct(domain.Product{ID: "shirt", Name: "Linen shirt", Price: 54900,
		Stock: map[domain.Size]int{domain.SizeS: 2, domain.SizeM: 3, domain.SizeL: 1}})
	api.AddCoupon(domain.Coupon{ID: "welcome", Code: "WELCOME10", PercentOff: 10, RemainingUses: 100,
		Description: "10% off your first order"})
	api.AddCoupon(domain.Coupon{ID: "vip", Code: "VIP20", PercentOff: 20, RemainingUses: 3,
		Description: "20% off, limited"})
}

// Cart commands
var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Show and change the cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			printTotals(e.Totals())
			return nil
		})
	},
}

var cartAddCmd = &cobra.Command{
	Use:   "add PRODUCT_ID SIZE QUANTITY",
	Short: "Add a product to the cart",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid quantity %q", args[2])
		}
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			item := domain.CartItem{ProductID: args[0], Size: domain.Size(args[1]), Quantity: qty}
			if err := e.Cart.AddItem(ctx, item); err != nil {
				return err
			}
			printTotals(e.Totals())
			return nil
		})
	},
}

var cartSetCmd = &cobra.Command{
	Use:   "set CART_ROW_ID QUANTITY",
	Short: "Set a cart row's quantity (0 removes it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			if err := e.Cart.UpdateQuantity(ctx, args[0], qty); err != nil {
				return err
			}
			printTotals(e.Totals())
			return nil
		})
	},
}

var cartRemoveCmd = &cobra.Command{
	Use:   "remove CART_ROW_ID",
	Short: "Remove a cart row",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			if err := e.Cart.RemoveItem(ctx, args[0]); err != nil {
				return err
			}
			printTotals(e.Totals())
			return nil
		})
	},
}

var cartClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			return e.Cart.Clear(ctx)
		})
	},
}

// Coupon commands
var couponCmd = &cobra.Command{
	Use:   "coupon",
	Short: "Manage the applied coupon",
}

var couponApplyCmd = &cobra.Command{
	Use:   "apply CODE",
	Short: "Apply a coupon code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			c, err := e.Coupons.ApplyCoupon(ctx, args[0], e.UserID())
			if err != nil {
				return err
			}
			fmt.Printf("✓ Applied %s (%d%% off)\n", c.Code, c.PercentOff)
			printTotals(e.Totals())
			return nil
		})
	},
}

var couponRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the applied coupon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			if err := e.Coupons.RemoveCoupon(ctx); err != nil {
				return err
			}
			printTotals(e.Totals())
			return nil
		})
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Place an order for the current cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		address, _ := cmd.Flags().GetString("address")
		note, _ := cmd.Flags().GetString("note")
		key, _ := cmd.Flags().GetString("idempotency-key")
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			res, err := e.Checkout.Complete(ctx, checkout.Request{Address: address, NoteRef: note, IdempotencyKey: key})
			var placeErr *checkout.PlaceOrderError
			if errors.As(err, &placeErr) {
				fmt.Fprintf(os.Stderr, "Order may have been placed. Retry with --idempotency-key %s\n", placeErr.IdempotencyKey)
			}
			if err != nil {
				return err
			}
			fmt.Printf("✓ Order %s placed, total %s\n", res.Order.ID, money(res.Order.Total))
			fmt.Printf("  Idempotency key: %s\n", res.IdempotencyKey)
			return nil
		})
	},
}

// Orders commands
var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			list, err := e.Orders.RefreshOrders(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPAID\tTOTAL\tCREATED")
			for _, o := range list {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", o.ID, o.Status, o.Paid, money(o.Total), o.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

var ordersShowCmd = &cobra.Command{
	Use:   "show ORDER_ID",
	Short: "Show one order with its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			d, err := e.Orders.GetOrderDetail(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Order %s: %s, paid=%t, total %s\n", d.Order.ID, d.Order.Status, d.Order.Paid, money(d.Order.Total))
			for _, it := range d.Items {
				fmt.Printf("  %dx %s (%s) @ %s\n", it.Quantity, it.Name, it.Size, money(it.UnitPrice))
			}
			return nil
		})
	},
}

var ordersCancelCmd = &cobra.Command{
	Use:   "cancel ORDER_ID",
	Short: "Cancel an unpaid order that has not shipped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			if err := e.Orders.CancelOrder(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Order %s cancelled\n", args[0])
			return nil
		})
	},
}

// Notification commands
var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			fmt.Printf("%d unread\n", e.Notifications.UnreadCount())
			for _, n := range e.Notifications.List() {
				mark := " "
				if !n.IsRead {
					mark = "*"
				}
				fmt.Printf("%s %s  %s  %s\n", mark, n.ID, n.CreatedAt.Format(time.RFC3339), n.Title)
				if n.Message != "" {
					fmt.Printf("    %s\n", n.Message)
				}
			}
			return nil
		})
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [NOTIFICATION_ID]",
	Short: "Mark one notification, or all of them, as read",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			if len(args) == 0 {
				e.Notifications.MarkAllRead(ctx)
				return nil
			}
			return e.Notifications.MarkRead(ctx, args[0])
		})
	},
}

var notificationsDeleteCmd = &cobra.Command{
	Use:   "delete NOTIFICATION_ID",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			return e.Notifications.Delete(ctx, args[0])
		})
	},
}

var notificationsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			e.Notifications.Clear(ctx)
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [ORDER_ID]",
	Short: "Poll orders and print state changes until interrupted",
	Long: `Watch polls the order list, and the given order's detail if one is
passed, printing every state change. Prometheus metrics are served on the
configured metrics address while it runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *session.Engine) error {
			if cfg.Metrics.Addr == "" {
				log.Warn("metrics address not configured, /metrics disabled")
			} else {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Errorf("metrics server failed", err)
					}
				}()
				defer metricsSrv.Close()
			}

			sub := e.Events().Subscribe()
			defer e.Events().Unsubscribe(sub)

			e.Orders.StartListPolling(ctx)
			if len(args) == 1 {
				e.Orders.WatchOrder(ctx, args[0])
			}
			fmt.Println("Watching. Press Ctrl+C to stop.")

			for {
				select {
				case ev, ok := <-sub:
					if !ok {
						return nil
					}
					fmt.Printf("%s  %-22s v%d", ev.Timestamp.Format(time.TimeOnly), ev.Type, ev.Version)
					for k, v := range ev.Metadata {
						fmt.Printf(" %s=%s", k, v)
					}
					fmt.Println()
				case <-ctx.Done():
					return nil
				}
			}
		})
	},
}

func init() {
	fakeAPICmd.Flags().String("addr", ":8080", "Listen address")

	cartCmd.AddCommand(cartAddCmd, cartSetCmd, cartRemoveCmd, cartClearCmd)
	couponCmd.AddCommand(couponApplyCmd, couponRemoveCmd)
	ordersCmd.AddCommand(ordersShowCmd, ordersCancelCmd)
	notificationsCmd.AddCommand(notificationsReadCmd, notificationsDeleteCmd, notificationsClearCmd)

	checkoutCmd.Flags().String("address", "", "Shipping address")
	checkoutCmd.Flags().String("note", "", "Optional gift note reference")
	checkoutCmd.Flags().String("idempotency-key", "", "Reuse to retry a failed checkout safely")
}

func printTotals(t session.Totals) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROW\tPRODUCT\tSIZE\tQTY\tPRICE")
	for _, it := range t.Cart.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", it.CartRowID, it.Name, it.Size, it.Quantity, money(it.UnitPrice))
	}
	_ = w.Flush()

	fmt.Printf("Items: %d  Total: %s", t.Cart.TotalItems, money(t.Discount.TotalPrice))
	if t.Coupon != nil {
		fmt.Printf("  %s: -%s", t.Coupon.Coupon.Code, money(t.Discount.DiscountAmount))
	}
	fmt.Printf("  To pay: %s\n", money(t.Discount.FinalPrice))
}

// money formats minor currency units.
func money(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
