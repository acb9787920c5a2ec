package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/keypanel/internal/application"
	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

func scheduleCmd(rf *rootFlags) *cobra.Command {
	var (
		count    int
		mode     string
		interval time.Duration
		cronSpec string
		timezone string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the next reactivation fire times for the configured or given schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(rf.ConfigPath)
			if err != nil {
				return err
			}

			reactivation := cfg.ReactivationDefaults()
			flags := cmd.Flags()
			if flags.Changed("mode") {
				reactivation.Mode = model.ReactivationMode(mode)
			}
			if flags.Changed("interval") {
				reactivation.Interval = interval
			}
			if flags.Changed("cron") {
				reactivation.CronSpec = cronSpec
			}
			if flags.Changed("timezone") {
				reactivation.Timezone = timezone
			}

			if err := application.ValidateReactivationConfig(reactivation); err != nil {
				return err
			}

			times, err := application.UpcomingFireTimes(reactivation, time.Now(), count)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mode=%s", reactivation.Mode)
			if reactivation.Mode == model.ReactivationModeInterval {
				fmt.Fprintf(out, " interval=%s\n", reactivation.Interval)
			} else {
				fmt.Fprintf(out, " cron=%q timezone=%s\n", reactivation.CronSpec, reactivation.Timezone)
			}
			for _, t := range times {
				fmt.Fprintln(out, t.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of fire times to print")
	cmd.Flags().StringVar(&mode, "mode", "", "Override the mode (interval or scheduled)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Override the interval")
	cmd.Flags().StringVar(&cronSpec, "cron", "", "Override the cron spec")
	cmd.Flags().StringVar(&timezone, "timezone", "", "Override the cron timezone")

	return cmd
}
