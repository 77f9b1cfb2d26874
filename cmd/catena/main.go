// Command catena runs one permissioned-SQL blockchain node: the gossip
// listener, the optional miner, and the query endpoint, wired together per
// the CLI surface's flags.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	v := viper.New()
	root := newRootCommand(v)
	root.SilenceErrors = true
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "catena:", err)
		if errors.Is(err, errUsage) {
			return 64
		}
		return 1
	}
	return 0
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catena",
		Short: "a permissioned blockchain whose payload is SQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	if err := bindFlags(cmd, v); err != nil {
		panic(fmt.Sprintf("catena: bind flags: %v", err))
	}
	return cmd
}
