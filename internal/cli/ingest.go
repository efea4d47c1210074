package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KazKozDev/anorix/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest documents into memory",
		Long:  "Chunk, store, and index external text. Reads the given files, or stdin when none are given.",
		Run:   runIngest,
	}

	cmd.Flags().String("origin", "", "Origin label for stdin input (default: stdin)")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	origin, _ := cmd.Flags().GetString("origin")

	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	type outcome struct {
		Origin   string `json:"origin"`
		Document string `json:"document"`
		Status   string `json:"status"`
	}
	var outcomes []outcome

	ingest := func(label, text string) {
		doc, err := a.coordinator.IngestDocument(cmd.Context(), label, text)
		switch {
		case errors.Is(err, store.ErrAlreadyIngested):
			outcomes = append(outcomes, outcome{Origin: label, Document: doc.ID, Status: "already ingested"})
		case err != nil:
			exitErr("ingest "+label, err)
		default:
			outcomes = append(outcomes, outcome{Origin: label, Document: doc.ID, Status: "ok"})
		}
	}

	if len(args) == 0 {
		text := readContent(nil)
		if strings.TrimSpace(text) == "" {
			exitErr("ingest", fmt.Errorf("no files given and nothing on stdin"))
		}
		if origin == "" {
			origin = "stdin"
		}
		ingest(origin, text)
	}
	for _, path := range args {
		b, err := os.ReadFile(path)
		if err != nil {
			exitErr("read "+path, err)
		}
		ingest(path, string(b))
	}

	printResult(outcomes, func() {
		for _, o := range outcomes {
			fmt.Printf("%s  %s (%s)\n", o.Document, o.Origin, o.Status)
		}
	})
}
