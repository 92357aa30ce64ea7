package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/geoexhibit/geoexhibit/pkg/config"
	"github.com/geoexhibit/geoexhibit/pkg/stores"
)

func newJobsCommand() *cobra.Command {
	var statePath string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the job history",
	}
	cmd.PersistentFlags().StringVar(&statePath, "state", "", "job history database (default from config, else .geoexhibit/state.db)")

	open := func(ctx context.Context) (*stores.SQLiteStore, error) {
		path := statePath
		if path == "" {
			path = config.DefaultConfig().State.Path
			if _, cfg, err := loadConfig(nil); err == nil && cfg.State.Path != "" {
				path = cfg.State.Path
			}
		}
		return stores.Open(ctx, path)
	}

	cmd.AddCommand(newJobsListCommand(open))
	cmd.AddCommand(newJobsShowCommand(open))
	return cmd
}

type openStore func(ctx context.Context) (*stores.SQLiteStore, error)

func newJobsListCommand(open openStore) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.ListJobs(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(jobs)
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs recorded")
				return nil
			}

			w := newTable()
			fmt.Fprintln(w, "JOB ID\tCOLLECTION\tSTATUS\tITEMS\tOUTPUT\tSTARTED")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					j.ID, j.CollectionID, j.Status, j.ItemCount, j.OutputType, j.StartedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show (0 for all)")

	return cmd
}

func newJobsShowCommand(open openStore) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show a job with its items and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			jobID := args[0]
			job, err := store.GetJob(ctx, jobID)
			if err != nil {
				return err
			}
			items, err := store.ListJobItems(ctx, jobID)
			if err != nil {
				return err
			}
			events, err := store.ListEvents(ctx, &jobID, nil, 0, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"job":    job,
					"items":  items,
					"events": events,
				})
			}

			fmt.Printf("Job ID:      %s\n", job.ID)
			fmt.Printf("Collection:  %s\n", job.CollectionID)
			fmt.Printf("Status:      %s\n", job.Status)
			fmt.Printf("Output:      %s %s\n", job.OutputType, job.StoreRoot)
			fmt.Printf("Items:       %d from %d features\n", job.ItemCount, job.FeatureCount)
			fmt.Printf("PMTiles:     %s\n", yesNo(job.PMTiles))
			fmt.Printf("Verified:    %s\n", yesNo(job.Verified))
			fmt.Printf("Started:     %s\n", job.StartedAt.Local().Format(time.DateTime))
			if job.CompletedAt != nil {
				fmt.Printf("Completed:   %s\n", job.CompletedAt.Local().Format(time.DateTime))
			}
			if job.Error != nil {
				fmt.Printf("Error:       %s\n", *job.Error)
			}

			if len(items) > 0 {
				fmt.Println("\nItems:")
				w := newTable()
				fmt.Fprintln(w, "  ITEM ID\tFEATURE\tDATETIME\tPRIMARY")
				for _, it := range items {
					fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", it.ItemID, it.FeatureID, it.Start.Format(time.RFC3339), it.PrimaryHref)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			if len(events) > 0 {
				fmt.Println("\nEvents:")
				for _, ev := range events {
					fmt.Printf("  %s  %-8s %-18s %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.Level, ev.Type, ev.Message)
				}
			}
			return nil
		},
	}
	return cmd
}
