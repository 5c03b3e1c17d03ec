package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chaincraft/internal/config"
	"github.com/soyeahso/chaincraft/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show chaincraft status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chaincraft %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			a := cfg.Agent
			space := a.Space
			if space == "" {
				space = "(not set)"
			}
			token := "no"
			if a.Token != "" {
				token = "yes"
			}
			fmt.Fprintf(out, "Agent:   space=%s transport=%s token=%s\n", space, a.Transport, token)
			fmt.Fprintf(out, "         design=%s timeout=%s retries=%d\n", a.Design.Endpoint, a.Design.Timeout, a.Design.Retries)
			fmt.Fprintf(out, "         image=%s timeout=%s retries=%d\n", a.Image.Endpoint, a.Image.Timeout, a.Image.Retries)

			switch cfg.State.Backend {
			case "sqlite":
				fmt.Fprintf(out, "State:   sqlite path=%s\n", paths.StateDBPath(cfg.State))
			case "file":
				fmt.Fprintf(out, "State:   file dir=%s\n", config.StateDir(cfg.State))
			default:
				fmt.Fprintf(out, "State:   %s\n", cfg.State.Backend)
			}

			if cfg.Gateway.Enabled {
				fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s\n",
					cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode)
			} else {
				fmt.Fprintln(out, "Gateway: (disabled)")
			}

			if irc := cfg.Channels.IRC; irc != nil {
				fmt.Fprintf(out, "IRC:     server=%s nick=%s channels=%s tls=%v\n",
					irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
			} else {
				fmt.Fprintln(out, "IRC:     (not configured)")
			}

			if cfg.Publish.Pinata != nil && cfg.Publish.Pinata.JWT != "" {
				fmt.Fprintf(out, "Publish: pinata gateway=%s\n", cfg.Publish.Pinata.GatewayURL)
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}
}
