package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chaincraft/internal/config"
	"github.com/soyeahso/chaincraft/internal/design"
	"github.com/soyeahso/chaincraft/internal/domain"
	"github.com/soyeahso/chaincraft/internal/logging"
)

// newDesignAgent builds the agent used by one-shot design commands.
var newDesignAgent = func(cfg config.AgentConfig, log *logging.Logger) (design.Agent, func() error) {
	remote := newRemoteAgent(cfg, nil, log)
	return remote.designer, remote.Close
}

func defaultConversationID() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "user"
	}
	return domain.ConversationKey{ChannelID: "cli", ChatID: "terminal", User: user}.String()
}

type designOp func(ctx context.Context, o *design.Orchestrator, id string, args []string) (*design.Reply, error)

func newDesignCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "design",
		Short: "Drive a design conversation from the terminal",
	}
	cmd.PersistentFlags().StringVar(&id, "id", "", "conversation id (default cli:terminal:$USER)")

	sub := func(use, short string, args cobra.PositionalArgs, op designOp) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, a []string) error {
				if id == "" {
					id = defaultConversationID()
				}
				return runDesign(cmd, id, a, op)
			},
		}
	}

	cmd.AddCommand(sub("start <description>", "Start a new game design", cobra.MinimumNArgs(1),
		func(ctx context.Context, o *design.Orchestrator, id string, args []string) (*design.Reply, error) {
			return o.StartDesign(ctx, id, strings.Join(args, " "))
		}))
	cmd.AddCommand(sub("turn <message>", "Continue the current design", cobra.MinimumNArgs(1),
		func(ctx context.Context, o *design.Orchestrator, id string, args []string) (*design.Reply, error) {
			return o.HandleTurn(ctx, id, strings.Join(args, " "))
		}))
	cmd.AddCommand(sub("approve", "Approve the design and end the conversation", cobra.NoArgs,
		func(ctx context.Context, o *design.Orchestrator, id string, _ []string) (*design.Reply, error) {
			return o.HandleApproval(ctx, id)
		}))
	cmd.AddCommand(sub("image", "Generate an image for the current specification", cobra.NoArgs,
		func(ctx context.Context, o *design.Orchestrator, id string, _ []string) (*design.Reply, error) {
			return o.GenerateImage(ctx, id)
		}))
	cmd.AddCommand(sub("end", "Discard the conversation", cobra.NoArgs,
		func(ctx context.Context, o *design.Orchestrator, id string, _ []string) (*design.Reply, error) {
			o.HandleTeardown(ctx, id)
			return &design.Reply{ConversationID: id, Ended: true, Notices: []string{"Conversation ended."}}, nil
		}))

	return cmd
}

func runDesign(cmd *cobra.Command, id string, args []string, op designOp) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	states, closeStore, err := openStore(cfg.State, paths, log)
	if err != nil {
		return err
	}
	defer closeStore()

	ag, closeAgent := newDesignAgent(cfg.Agent, log)
	defer closeAgent()

	orch := design.New(states, ag, nil, log)
	defer orch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reply, err := op(ctx, orch, id, args)
	if reply != nil {
		printReply(cmd.OutOrStdout(), reply)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	return nil
}

func printReply(w io.Writer, r *design.Reply) {
	for _, line := range r.Lines() {
		fmt.Fprintln(w, line)
	}
}
