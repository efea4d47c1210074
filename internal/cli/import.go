package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import memory from a JSON export",
		Long: "Read an export from stdin and merge it in. Profile and facts go through the\n" +
			"normal merge rules, so importing into a populated store is safe. Run\n" +
			"'anorix reindex --rebuild' afterwards to index the imported turns.",
		Run: runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	if err := a.coordinator.Import(cmd.Context(), os.Stdin); err != nil {
		exitErr("import", err)
	}
	fmt.Println(`{"ok":true}`)
}
