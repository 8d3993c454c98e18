package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/kestrelnet/cascade/internal/models"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the supported output formats.
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatTable OutputFormat = "table"
)

// OutputOptions controls output formatting behavior.
type OutputOptions struct {
	Format     OutputFormat
	NoColor    bool
	Writer     io.Writer
	IsTerminal bool
}

// NewOutputOptions creates output options with sensible defaults.
func NewOutputOptions(format string, noColor bool) *OutputOptions {
	opts := &OutputOptions{
		Format:  FormatTable,
		NoColor: noColor,
		Writer:  os.Stdout,
	}

	if f, ok := opts.Writer.(*os.File); ok {
		opts.IsTerminal = isatty.IsTerminal(f.Fd())
	}

	switch strings.ToLower(format) {
	case "json":
		opts.Format = FormatJSON
	case "yaml", "yml":
		opts.Format = FormatYAML
	case "table":
		opts.Format = FormatTable
	}

	if !opts.IsTerminal || noColor {
		color.NoColor = true
	}
	return opts
}

// FormatEnrichResult renders a single-address enrichment.
func FormatEnrichResult(opts *OutputOptions, result *models.EnrichResult) error {
	switch opts.Format {
	case FormatJSON:
		return formatJSON(opts.Writer, result)
	case FormatYAML:
		return formatYAML(opts.Writer, result)
	case FormatTable:
		return formatEnrichTable(opts, result)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
}

func formatEnrichTable(opts *OutputOptions, result *models.EnrichResult) error {
	bold := color.New(color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	fmt.Fprintf(opts.Writer, "%s %s\n", bold("IP:"), result.IP)

	asn := "-"
	if result.CurrentASN != nil {
		asn = fmt.Sprintf("AS%d", *result.CurrentASN)
	}
	fmt.Fprintf(opts.Writer, "%s %s\n", bold("ASN:"), asn)
	fmt.Fprintf(opts.Writer, "%s %s\n", bold("Country:"), result.GeoCountry)

	scanner := green("no")
	if result.IsScanner {
		scanner = red("yes")
	}
	fmt.Fprintf(opts.Writer, "%s %s\n", bold("Scanner:"), scanner)
	if result.IsBogon {
		fmt.Fprintf(opts.Writer, "%s %s\n", bold("Bogon:"), red("yes"))
	}
	fmt.Fprintf(opts.Writer, "%s %.0f%%\n", bold("Completeness:"), result.EnrichmentComplete)

	if result.Enrichment != nil && result.Enrichment.Meta != nil {
		meta := result.Enrichment.Meta
		table := tablewriter.NewWriter(opts.Writer)
		table.SetHeader([]string{"Source", "Outcome", "Detail"})
		table.SetBorder(false)

		for _, s := range meta.SourcesSucceeded {
			detail := meta.CacheHits[s]
			table.Append([]string{string(s), "ok", detail})
		}
		for _, s := range meta.SourcesFailed {
			table.Append([]string{string(s), "failed", meta.FailureReasons[s]})
		}
		for _, s := range meta.SourcesSkipped {
			table.Append([]string{string(s), "skipped", meta.SkipReasons[s]})
		}
		table.Render()
		fmt.Fprintf(opts.Writer, "Took %d ms\n", meta.TotalDurationMS)
	}
	return nil
}

// FormatRefreshAccepted renders the 202 handle for a submitted batch.
func FormatRefreshAccepted(opts *OutputOptions, accepted *models.RefreshAccepted) error {
	switch opts.Format {
	case FormatJSON:
		return formatJSON(opts.Writer, accepted)
	case FormatYAML:
		return formatYAML(opts.Writer, accepted)
	default:
		fmt.Fprintf(opts.Writer, "Job %s accepted (%d IPs)\n", accepted.JobID, accepted.IPsTotal)
		fmt.Fprintf(opts.Writer, "Poll with: cascade jobs get %s\n", accepted.JobID)
		return nil
	}
}

// FormatJob renders one job record.
func FormatJob(opts *OutputOptions, job *models.EnrichmentJob) error {
	switch opts.Format {
	case FormatJSON:
		return formatJSON(opts.Writer, job)
	case FormatYAML:
		return formatYAML(opts.Writer, job)
	default:
		return formatJobTable(opts, []models.EnrichmentJob{*job})
	}
}

// FormatJobList renders a paginated job listing.
func FormatJobList(opts *OutputOptions, list *models.JobListResponse) error {
	switch opts.Format {
	case FormatJSON:
		return formatJSON(opts.Writer, list)
	case FormatYAML:
		return formatYAML(opts.Writer, list)
	default:
		if err := formatJobTable(opts, list.Jobs); err != nil {
			return err
		}
		if list.HasMore {
			fmt.Fprintf(opts.Writer, "More results: --offset %d\n", list.NextOffset)
		}
		return nil
	}
}

func formatJobTable(opts *OutputOptions, jobs []models.EnrichmentJob) error {
	if len(jobs) == 0 {
		fmt.Fprintln(opts.Writer, "No jobs found")
		return nil
	}

	table := tablewriter.NewWriter(opts.Writer)
	table.SetHeader([]string{"ID", "Kind", "State", "Progress", "IPs", "Failed", "Created"})
	table.SetBorder(false)

	for _, job := range jobs {
		table.Append([]string{
			job.ID,
			string(job.Kind),
			colorState(job.State),
			fmt.Sprintf("%.0f%%", job.Progress()),
			strconv.Itoa(job.IPsTotal),
			strconv.Itoa(job.IPsFailed),
			job.CreatedAt.Format(time.RFC3339),
		})
	}
	table.Render()
	return nil
}

func colorState(state models.JobState) string {
	switch state {
	case models.JobStateCompleted:
		return color.GreenString(state.String())
	case models.JobStateFailed:
		return color.RedString(state.String())
	case models.JobStateProcessing:
		return color.YellowString(state.String())
	default:
		return state.String()
	}
}

func formatJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}
