package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KazKozDev/anorix/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "record [content]",
		Short: "Record a conversation turn",
		Long:  "Record a turn into the current session. Content can be a positional arg or piped via stdin.",
		Run:   runRecord,
	}

	cmd.Flags().StringP("role", "r", "user", "Turn role: user, agent, system")
	cmd.Flags().String("meta", "", "JSON metadata object")
	cmd.Flags().Bool("new-session", false, "Start a fresh session instead of resuming")

	RootCmd.AddCommand(cmd)
}

func runRecord(cmd *cobra.Command, args []string) {
	role, _ := cmd.Flags().GetString("role")
	metaStr, _ := cmd.Flags().GetString("meta")
	newSession, _ := cmd.Flags().GetBool("new-session")

	content := readContent(args)
	if strings.TrimSpace(content) == "" {
		exitErr("record", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	var metadata map[string]string
	if metaStr != "" {
		if err := json.Unmarshal([]byte(metaStr), &metadata); err != nil {
			exitErr("parse meta", err)
		}
	}

	a, err := openApp(cmd.Context(), !newSession)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	turn, err := a.coordinator.Record(cmd.Context(), model.Role(role), content, metadata)
	if err != nil {
		exitErr("record", err)
	}

	printResult(turn, func() {
		fmt.Printf("%s  [%s] %s\n", turn.ID, turn.Role, turn.Content)
	})
}

// readContent takes positional args first and falls back to stdin
// when input is piped.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

// printResult prints v as JSON unless text output was requested.
func printResult(v any, text func()) {
	if formatFlag == "text" {
		text()
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
