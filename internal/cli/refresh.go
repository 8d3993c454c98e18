package cli

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/kestrelnet/cascade/internal/client"
	"github.com/kestrelnet/cascade/internal/models"
	"github.com/spf13/cobra"
)

// NewRefreshCommand submits a batch of addresses for asynchronous
// re-enrichment through the three-pass refresh workflow.
func NewRefreshCommand() *cobra.Command {
	var (
		outputFormat string
		noColor      bool
		wait         bool
		pollEvery    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "refresh <file>",
		Short: "Refresh enrichment for a file of IPs",
		Long: `Submit a newline-delimited file of IPv4 addresses for asynchronous
re-enrichment. Lines starting with '#' and blank lines are ignored.

The command prints a job ID to poll; with --wait it polls until the job
reaches a terminal state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ips, err := readIPFile(args[0])
			if err != nil {
				return err
			}
			if len(ips) == 0 {
				return fmt.Errorf("no addresses found in %s", args[0])
			}

			c := client.NewClient(GetAPIURL()).WithTimeout(GetAPITimeout())

			ctx, cancel := context.WithTimeout(cmd.Context(), GetAPITimeout())
			defer cancel()

			accepted, err := c.Refresh(ctx, ips)
			if err != nil {
				return fmt.Errorf("refresh submission failed: %w", err)
			}

			if outputFormat == "" {
				outputFormat = GetOutputFormat()
			}
			opts := NewOutputOptions(outputFormat, noColor || !GetOutputColor())
			if err := FormatRefreshAccepted(opts, accepted); err != nil {
				return err
			}

			if !wait {
				return nil
			}
			return pollJob(cmd.Context(), c, accepted.JobID, pollEvery, opts)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "output format (json, yaml, table)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job completes or fails")
	cmd.Flags().DurationVar(&pollEvery, "poll-interval", 5*time.Second, "polling interval with --wait")
	return cmd
}

func readIPFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var ips []string
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if parsed := net.ParseIP(line); parsed == nil || parsed.To4() == nil {
			return nil, fmt.Errorf("%s:%d: %q is not a valid IPv4 address", path, lineNo, line)
		}
		ips = append(ips, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ips, nil
}

func pollJob(ctx context.Context, c *client.Client, jobID string, interval time.Duration, opts *OutputOptions) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("poll job %s: %w", jobID, err)
		}

		fmt.Fprintf(os.Stderr, "job %s: %s (%.0f%%)\n", job.ID, job.State, job.Progress())

		switch job.State {
		case models.JobStateCompleted:
			return FormatJob(opts, job)
		case models.JobStateFailed:
			if err := FormatJob(opts, job); err != nil {
				return err
			}
			if job.ErrorMessage != nil {
				return fmt.Errorf("job failed: %s", *job.ErrorMessage)
			}
			return fmt.Errorf("job failed")
		}
	}
}
