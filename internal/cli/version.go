package cli

import (
	"encoding/json"
	"fmt"

	"github.com/BrotherOrange/PlayForge/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the PlayForge build",
		Long: `Print the PlayForge release, the commit it was built from, the commit
time and the platform. Builds without -ldflags report the VCS stamp the go
tool embedded. The user agent is the one sent to model providers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), version.Info())
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(version.Current())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print build info as JSON")
	return cmd
}
