package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/fjod/go_cart/storefront/internal/notification"
	"github.com/fjod/go_cart/storefront/internal/orders"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "storefront",
	Short: "Storefront client engine",
	Long: `Storefront keeps a shopper's cart, applied coupon, orders and
notifications in sync with the commerce API, and persists them locally
per signed-in user so they survive restarts.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		c, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = c
		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})
		return nil
	},
}

var cfg config.Config

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("storefront version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("user", "", "Signed-in user id (empty for guest)")

	rootCmd.AddCommand(fakeAPICmd)
	rootCmd.AddCommand(cartCmd)
	rootCmd.AddCommand(couponCmd)
	rootCmd.AddCommand(ordersCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(watchCmd)
}

// withEngine builds a session for the --user flag, runs fn and tears it down.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *session.Engine) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}

	deps := session.Deps{
		API: remote.NewClient(remote.Config{
			BaseURL:         cfg.API.BaseURL,
			Timeout:         cfg.API.Timeout,
			BreakerFailures: cfg.API.BreakerFailures,
			BreakerCooldown: cfg.API.BreakerCooldown,
		}),
		Backend: backend,
		Orders: orders.Config{
			ListInterval:   cfg.Polling.ListInterval,
			DetailInterval: cfg.Polling.DetailInterval,
		},
		NotificationLimit: cfg.Notifications.Limit,
	}
	if len(cfg.Notifications.KafkaBrokers) > 0 {
		sink := notification.NewKafkaSink(cfg.Notifications.KafkaTopic, cfg.Notifications.KafkaBrokers...)
		defer func() {
			if err := sink.Close(); err != nil {
				log.Errorf("failed to close kafka sink", err)
			}
		}()
		deps.Sink = sink
	}

	engine := session.New(deps)
	defer func() {
		if err := engine.Close(); err != nil {
			log.Errorf("failed to close session", err)
		}
	}()

	userID, _ := cmd.Flags().GetString("user")
	if err := engine.Start(ctx, session.NewStaticIdentity(userID)); err != nil {
		return err
	}
	return fn(ctx, engine)
}
