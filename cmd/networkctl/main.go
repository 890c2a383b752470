// Command networkctl runs the network's batch jobs by hand: period close, payouts,
// qualification and payment intent reconciliation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_network/bootstrap"
	"github.com/HSouheill/barrim_network/config"
	"github.com/HSouheill/barrim_network/jobs"
	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/services"
)

type cli struct {
	verbose   bool
	container *bootstrap.Container
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "networkctl",
		Short:         "Operator tool for the referral network",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.InitLogger(!c.verbose); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			container, err := bootstrap.New(cmd.Context(), config.LoadRuntimeConfig(), config.LoadNetworkPolicy(), logging.Logger)
			if err != nil {
				return err
			}
			c.container = container
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.container != nil {
				c.container.Close(context.Background())
			}
			logging.Sync()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Development logging")

	rootCmd.AddCommand(newResidualsCommand(c))
	rootCmd.AddCommand(newPayoutCommand(c))
	rootCmd.AddCommand(newQualifyCommand(c))
	rootCmd.AddCommand(newIntentsCommand(c))
	return rootCmd
}

func newResidualsCommand(c *cli) *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "residuals",
		Short: "Compute residual commissions for a period (default: last month)",
		RunE: func(cmd *cobra.Command, args []string) error {
			periodEnd := jobs.PreviousPeriodEnd(time.Now())
			if period != "" {
				start, err := time.Parse("2006-01", period)
				if err != nil {
					return fmt.Errorf("period must look like 2006-01: %w", err)
				}
				periodEnd = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
			}
			records, err := c.container.Commissions.ComputeMonthlyResiduals(cmd.Context(), periodEnd)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"period":  services.PeriodFor(periodEnd),
				"created": len(records),
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "Period to close, YYYY-MM")
	return cmd
}

func newPayoutCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Settle commission records",
	}

	var period, commissionType string
	var preflightOnly bool
	bulkCmd := &cobra.Command{
		Use:   "bulk",
		Short: "Pay every open record of a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if period == "" {
				period = services.PeriodFor(jobs.PreviousPeriodEnd(time.Now()))
			}
			filter := models.CommissionFilter{Period: period, CommissionType: models.CommissionType(commissionType)}
			if preflightOnly {
				check, err := c.container.Payouts.PreflightBalance(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return printJSON(check)
			}
			report, err := c.container.Payouts.ProcessBulk(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	bulkCmd.Flags().StringVar(&period, "period", "", "Period to pay, YYYY-MM (default: last month)")
	bulkCmd.Flags().StringVar(&commissionType, "type", "", "residual or direct_bonus (default: both)")
	bulkCmd.Flags().BoolVar(&preflightOnly, "preflight", false, "Only compare the balance with what is owed")

	cmd.AddCommand(bulkCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "single <record-id>",
		Short: "Pay one commission record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := primitive.ObjectIDFromHex(args[0])
			if err != nil {
				return err
			}
			record, err := c.container.Payouts.ProcessSingle(cmd.Context(), id)
			if record != nil {
				_ = printJSON(record)
			}
			return err
		},
	})

	var note, operator string
	completeCmd := &cobra.Command{
		Use:   "complete <record-id>",
		Short: "Record a payment made outside the provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := primitive.ObjectIDFromHex(args[0])
			if err != nil {
				return err
			}
			if operator == "" {
				operator = os.Getenv("USER")
			}
			record, err := c.container.Payouts.MarkManuallyCompleted(cmd.Context(), id, note, operator)
			if err != nil {
				return err
			}
			return printJSON(record)
		},
	}
	completeCmd.Flags().StringVar(&note, "note", "", "Justification, e.g. the wire reference")
	completeCmd.Flags().StringVar(&operator, "operator", "", "Who completed the payment")
	cmd.AddCommand(completeCmd)

	var olderThan time.Duration
	reconcileCmd := &cobra.Command{
		Use:   "reconcile [record-id]",
		Short: "Resolve unknown transfer outcomes, one record or every stale one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				id, err := primitive.ObjectIDFromHex(args[0])
				if err != nil {
					return err
				}
				record, err := c.container.Payouts.ReconcileTransfer(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(record)
			}
			if olderThan <= 0 {
				olderThan = c.container.Runtime.StaleProcessing
			}
			report, err := c.container.Payouts.ReconcileStale(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	reconcileCmd.Flags().DurationVar(&olderThan, "older-than", 0, "Processing age that counts as stale")
	cmd.AddCommand(reconcileCmd)

	return cmd
}

func newQualifyCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "qualify [member-id]",
		Short: "Recalculate unlocked structures, one member or everyone",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				id, err := primitive.ObjectIDFromHex(args[0])
				if err != nil {
					return err
				}
				member, err := c.container.Qualification.Recalculate(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(member)
			}
			report, err := c.container.Qualification.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func newIntentsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intents",
		Short: "Reconcile crypto payment intents",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check <intent-id>",
		Short: "Read the chain and advance one intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := primitive.ObjectIDFromHex(args[0])
			if err != nil {
				return err
			}
			intent, err := c.container.Reconciliation.CheckStatus(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(intent)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "poll",
		Short: "Check every open intent",
		RunE: func(cmd *cobra.Command, args []string) error {
			checked, err := c.container.Reconciliation.PollOpen(cmd.Context())
			if err != nil {
				return err
			}
			logging.Logger.Info("open intents polled", zap.Int("checked", checked))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Finalise intents past their late-payment window",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.container.Reconciliation.SweepExpired(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	})
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
