package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect stored conversation state",
	}

	cmd.AddCommand(newStateGetCmd())
	cmd.AddCommand(newStateRmCmd())
	return cmd
}

func newStateGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <conversation-id>",
		Short: "Print the stored state of a conversation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			states, closeStore, err := openStore(cfg.State, paths, log)
			if err != nil {
				return err
			}
			defer closeStore()

			st, err := states.Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			if st.Empty() {
				return fmt.Errorf("no state for %q", args[0])
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func newStateRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <conversation-id>...",
		Short: "Remove stored conversation state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			states, closeStore, err := openStore(cfg.State, paths, log)
			if err != nil {
				return err
			}
			defer closeStore()

			for _, id := range args {
				if err := states.Remove(context.Background(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
			}
			return nil
		},
	}
}
