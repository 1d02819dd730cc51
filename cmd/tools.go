package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/toolgate/internal/directory"
	"github.com/nextlevelbuilder/toolgate/internal/tools"
)

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}
	cmd.AddCommand(toolsListCmd())
	return cmd
}

func toolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			dir, err := directory.Open(cfg.Store.DirectoryPath)
			if err != nil {
				return fmt.Errorf("open directory store: %w", err)
			}
			defer dir.Close()

			registry := tools.NewRegistry()
			tools.RegisterDirectoryTools(registry, dir)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, name := range registry.List() {
				tool, ok := registry.Get(name)
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\n", tool.Name(), tool.Description())
			}
			return w.Flush()
		},
	}
}

// serverBaseURL derives the local server URL from the config.
func serverBaseURL() (base, token string) {
	cfg := loadConfig()
	return fmt.Sprintf("http://%s", cfg.Server.Addr()), cfg.Server.Token
}

// httpClientTimeout bounds CLI calls against the running server. Approvals
// trigger tool execution plus a model round-trip, so this is generous.
const httpClientTimeout = 3 * time.Minute
