package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export durable memory as JSON",
		Long:  "Write sessions, turns, profile, and facts to stdout. Chunks and embeddings are derivable and not included.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	if err := a.coordinator.Export(cmd.Context(), os.Stdout); err != nil {
		exitErr("export", err)
	}
}
