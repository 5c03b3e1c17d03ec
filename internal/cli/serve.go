package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chaincraft/internal/channel"
	"github.com/soyeahso/chaincraft/internal/channel/irc"
	"github.com/soyeahso/chaincraft/internal/design"
	"github.com/soyeahso/chaincraft/internal/gateway"
	"github.com/soyeahso/chaincraft/internal/hooks"
	"github.com/soyeahso/chaincraft/internal/publish"
	"github.com/soyeahso/chaincraft/internal/routing"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat front-ends and the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hookMgr := hooks.NewManager(log)
			if n := hooks.RegisterCommands(hookMgr, cfg.Hooks); n > 0 {
				log.Info().Int("hooks", n).Msg("command hooks registered")
			}
			defer hookMgr.Wait()

			states, closeStore, err := openStore(cfg.State, paths, log)
			if err != nil {
				return err
			}
			defer closeStore()

			remote := newRemoteAgent(cfg.Agent, hookMgr, log)
			defer remote.Close()

			orch := design.New(states, remote.designer, hookMgr, log)
			defer orch.Close()

			publisher := publish.NewPublisher(publish.NewPinataClient(cfg.Publish.Pinata, log))

			channels := channel.NewRegistry(log)
			if cfg.Channels.IRC != nil {
				if err := channels.Register(irc.New(*cfg.Channels.IRC, log)); err != nil {
					return err
				}
			}

			if channels.Count() > 0 {
				opts := routing.Options{}
				if ircCfg := cfg.Channels.IRC; ircCfg != nil {
					opts.Prefix = ircCfg.CommandPrefix
					opts.ShareChannel = ircCfg.ShareChannel
				}
				router := routing.NewRouter(channels, orch, publisher, opts, log)
				router.Wire(ctx, hookMgr)
				defer router.Wait()

				channels.StartAll(ctx)
				defer channels.StopAll(context.Background())
				log.Info().Int("channels", channels.Count()).Msg("message routing active")
			}

			log.Info().
				Str("space", cfg.Agent.Space).
				Str("transport", cfg.Agent.Transport).
				Str("state", cfg.State.Backend).
				Msg("design agent configured")

			if !cfg.Gateway.Enabled {
				if channels.Count() == 0 {
					return fmt.Errorf("nothing to serve: enable the gateway or configure a chat channel")
				}
				<-ctx.Done()
				return nil
			}

			srv := gateway.New(cfg.Gateway, log,
				gateway.WithDesigns(orch),
				gateway.WithPublisher(publisher),
				gateway.WithAgentStatus(remote.status),
				gateway.WithChannels(channels),
				gateway.WithHooks(hookMgr),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, all)")

	return cmd
}
