package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/openlot/parkd/internal/billing"
	"github.com/openlot/parkd/internal/config"
	"github.com/openlot/parkd/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	checkFareRate     string
	checkFareDuration string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check fares and spot availability",
	Long:  `Inspect what parkd would charge for a parking interval, or query the live availability of a spot.`,
}

var checkFareCmd = &cobra.Command{
	Use:   "fare",
	Short: "Quote the fare for a parking duration",
	Long: `Compute the fare for a parking duration at a given per-minute rate,
without touching the store or the ledger. Partial minutes round up.`,
	RunE: runCheckFare,
}

var checkSpotCmd = &cobra.Command{
	Use:   "spot SPOT_ID",
	Short: "Check the live availability of a spot",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckSpot,
}

func init() {
	checkFareCmd.Flags().StringVar(&checkFareRate, "rate", "", "Rate per minute (decimal, e.g. 0.12)")
	checkFareCmd.Flags().StringVar(&checkFareDuration, "duration", "", "Parking duration (e.g. 90s, 25m, 2h)")
	_ = checkFareCmd.MarkFlagRequired("duration")

	checkCmd.AddCommand(checkFareCmd)
	checkCmd.AddCommand(checkSpotCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckFare(cmd *cobra.Command, args []string) error {
	rateStr := checkFareRate
	if rateStr == "" {
		// Fall back to the configured default rate
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("no --rate given and failed to load configuration: %w", err)
		}
		rateStr = cfg.Billing.DefaultRatePerMinute
	}

	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return fmt.Errorf("invalid rate %q: %w", rateStr, err)
	}

	duration, err := time.ParseDuration(checkFareDuration)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", checkFareDuration, err)
	}

	start := time.Now()
	end := start.Add(duration)

	minutes, err := billing.Minutes(start, end)
	if err != nil {
		return err
	}
	fare, err := billing.Fare(start, end, rate)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Println("Fare quote")
	fmt.Printf("  duration:       %s\n", duration)
	fmt.Printf("  billed minutes: %d\n", minutes)
	fmt.Printf("  rate/minute:    %s\n", rate)
	fmt.Printf("  fare:           %s\n", fare)

	return nil
}

func runCheckSpot(cmd *cobra.Command, args []string) error {
	spotID := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	spot, err := store.Spots().GetSpot(ctx, spotID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("spot %s not found", spotID)
		}
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Printf("Spot:   %s (lot %s, number %d)\n", spot.ID, spot.LotID, spot.Number)
	if spot.Available {
		_, _ = green.Println("Status: AVAILABLE")
		return nil
	}
	_, _ = red.Println("Status: OCCUPIED")

	// Show the occupying session when we can find it
	sessions, err := store.Sessions().ListBySpot(ctx, spotID)
	if err != nil {
		return nil
	}
	for _, s := range sessions {
		if s.Status == storage.SessionActive {
			fmt.Printf("Active session: %s (wallet %s, started %s)\n",
				s.ID, s.Wallet, s.StartedAt.Format(time.RFC3339))
			break
		}
	}

	return nil
}
