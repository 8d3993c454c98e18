package cli

import (
	"context"
	"fmt"

	"github.com/kestrelnet/cascade/internal/client"
	"github.com/kestrelnet/cascade/internal/models"
	"github.com/spf13/cobra"
)

// NewJobsCommand groups the job tracking subcommands.
func NewJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Track batch enrichment jobs",
	}
	cmd.AddCommand(newJobsGetCommand())
	cmd.AddCommand(newJobsListCommand())
	return cmd
}

func newJobsGetCommand() *cobra.Command {
	var (
		outputFormat string
		noColor      bool
	)

	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Get a job by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient(GetAPIURL()).WithTimeout(GetAPITimeout())

			ctx, cancel := context.WithTimeout(cmd.Context(), GetAPITimeout())
			defer cancel()

			job, err := c.GetJob(ctx, args[0])
			if err != nil {
				return err
			}

			if outputFormat == "" {
				outputFormat = GetOutputFormat()
			}
			opts := NewOutputOptions(outputFormat, noColor || !GetOutputColor())
			return FormatJob(opts, job)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "output format (json, yaml, table)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

func newJobsListCommand() *cobra.Command {
	var (
		outputFormat string
		noColor      bool
		kind         string
		state        string
		limit        int
		offset       int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batch jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := client.ListJobsOptions{
				Limit:     limit,
				Offset:    offset,
				OrderBy:   "created_at",
				OrderDesc: true,
			}
			if kind != "" {
				k := models.JobKind(kind)
				opts.Kind = &k
			}
			if state != "" {
				s := models.JobState(state)
				if !s.IsValid() {
					return fmt.Errorf("invalid state %q (must be pending, processing, completed, or failed)", state)
				}
				opts.State = &s
			}

			c := client.NewClient(GetAPIURL()).WithTimeout(GetAPITimeout())

			ctx, cancel := context.WithTimeout(cmd.Context(), GetAPITimeout())
			defer cancel()

			list, err := c.ListJobs(ctx, opts)
			if err != nil {
				return err
			}

			if outputFormat == "" {
				outputFormat = GetOutputFormat()
			}
			outOpts := NewOutputOptions(outputFormat, noColor || !GetOutputColor())
			return FormatJobList(outOpts, list)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "output format (json, yaml, table)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (asn_backfill, refresh)")
	cmd.Flags().StringVar(&state, "state", "", "filter by state (pending, processing, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset for pagination")
	return cmd
}
