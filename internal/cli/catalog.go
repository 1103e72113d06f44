package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"qbwc-sync/internal/catalog"
)

// NewCatalogCommand prints the entity types in dispatch order.
func NewCatalogCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the entity types requested from the connector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			descs := catalog.Default().Descriptors()
			if opts.Format == "json" {
				type entry struct {
					EntityType string   `json:"entity_type"`
					Collection string   `json:"collection"`
					KeyField   string   `json:"key_field"`
					Fields     []string `json:"fields,omitempty"`
				}
				out := make([]entry, 0, len(descs))
				for _, d := range descs {
					out = append(out, entry{d.EntityType, d.Collection, d.KeyField, d.Fields})
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTITY\tCOLLECTION\tKEY\tFIELDS")
			for _, d := range descs {
				fields := strings.Join(d.Fields, ", ")
				if fields == "" {
					fields = "(per record)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.EntityType, d.Collection, d.KeyField, fields)
			}
			return tw.Flush()
		},
	}
}
