package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Index chunks whose embeddings previously failed",
		Long: "Retry unindexed chunks against the embedding provider. With --rebuild the\n" +
			"semantic index is dropped and every chunk is re-embedded from the store.",
		Run: runReindex,
	}

	cmd.Flags().Bool("rebuild", false, "Rebuild the whole index from scratch")
	cmd.Flags().IntP("limit", "l", 500, "Max chunks to retry (ignored with --rebuild)")

	RootCmd.AddCommand(cmd)
}

func runReindex(cmd *cobra.Command, args []string) {
	rebuild, _ := cmd.Flags().GetBool("rebuild")
	limit, _ := cmd.Flags().GetInt("limit")

	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	var n int
	if rebuild {
		n, err = a.coordinator.RebuildIndex(cmd.Context())
	} else {
		n, err = a.coordinator.RetryUnindexed(cmd.Context(), limit)
	}
	if err != nil {
		exitErr("reindex", err)
	}
	fmt.Printf(`{"ok":true,"indexed":%d}`+"\n", n)
}
