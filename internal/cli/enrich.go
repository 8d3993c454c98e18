package cli

import (
	"context"
	"fmt"
	"net"

	"github.com/kestrelnet/cascade/internal/client"
	"github.com/spf13/cobra"
)

// NewEnrichCommand runs the cascade synchronously for one address.
func NewEnrichCommand() *cobra.Command {
	var (
		outputFormat string
		noColor      bool
	)

	cmd := &cobra.Command{
		Use:   "enrich <ip>",
		Short: "Enrich a single IP through the cascade",
		Long: `Run the full enrichment cascade for one IPv4 address: bogon check,
offline geo/ASN lookup, bulk ASN fallback, and (when the address has
enough recorded activity) scanner-intel classification.

The result is written to the IP inventory and printed here.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip := args[0]
			if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
				return fmt.Errorf("%q is not a valid IPv4 address", ip)
			}

			c := client.NewClient(GetAPIURL()).WithTimeout(GetAPITimeout())

			ctx, cancel := context.WithTimeout(cmd.Context(), GetAPITimeout())
			defer cancel()

			result, err := c.Enrich(ctx, ip)
			if err != nil {
				return fmt.Errorf("enrich failed: %w", err)
			}

			if outputFormat == "" {
				outputFormat = GetOutputFormat()
			}
			opts := NewOutputOptions(outputFormat, noColor || !GetOutputColor())
			return FormatEnrichResult(opts, result)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "output format (json, yaml, table)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}
