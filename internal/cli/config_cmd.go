package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soyeahso/chaincraft/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get or set configuration values",
		Long: "Edit the YAML config file by dotted path, for example\n" +
			"  chaincraft config set agent.space owner/game-designer\n" +
			"  chaincraft config set agent.design.timeout 45s\n" +
			"  chaincraft config set channels.irc.channels.0 '#games'",
	}
	cmd.AddCommand(
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
			},
		},
	)
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	var effective bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}
			doc, err := readConfigDoc(effective)
			if err != nil {
				return err
			}
			val, ok := config.GetValueAtPath(doc, key)
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}
			return printValue(cmd.OutOrStdout(), val)
		},
	}
	cmd.Flags().BoolVar(&effective, "effective", false, "read the merged config (defaults and environment overrides) instead of the file")
	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := parseValue(args[1])
			err := editConfigFile(args[0], func(raw map[string]any, key []string) error {
				return config.SetValueAtPath(raw, key, value)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], value)
			warnInvalid()
			return nil
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := editConfigFile(args[0], func(raw map[string]any, key []string) error {
				if !config.UnsetValueAtPath(raw, key) {
					return fmt.Errorf("key %q not found", args[0])
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
			return nil
		},
	}
}

// editConfigFile loads the config file as a document, applies edit at the
// dotted key and writes it back. Nothing is written if edit fails.
func editConfigFile(dotted string, edit func(raw map[string]any, key []string) error) error {
	key, err := config.ParseConfigPath(dotted)
	if err != nil {
		return err
	}
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return err
	}
	if err := edit(raw, key); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(paths.Config), 0o700); err != nil {
		return err
	}
	return config.SaveRaw(paths.Config, raw)
}

// readConfigDoc returns the config file as a generic document or, when
// effective is set, the fully loaded config re-encoded the same way.
func readConfigDoc(effective bool) (map[string]any, error) {
	if !effective {
		return config.LoadRaw(paths.Config)
	}
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// warnInvalid logs validation issues of the saved file without failing;
// a config is often edited one key at a time.
func warnInvalid() {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		log.Warn().Err(err).Msg("config no longer loads")
		return
	}
	for _, issue := range config.Validate(&cfg) {
		log.Warn().Str("path", issue.Path).Msg(issue.Message)
	}
}

// printValue writes scalars on one line and sections as YAML.
func printValue(w io.Writer, v any) error {
	switch v.(type) {
	case map[string]any, []any:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	_, err := fmt.Fprintln(w, v)
	return err
}

// parseValue interprets a command-line value as a bool, int or float, and
// otherwise keeps it as a string. Durations such as "20s" stay strings and
// are parsed when the config loads.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
