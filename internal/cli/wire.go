package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"github.com/soyeahso/chaincraft/internal/agent"
	"github.com/soyeahso/chaincraft/internal/config"
	"github.com/soyeahso/chaincraft/internal/gateway"
	"github.com/soyeahso/chaincraft/internal/gradio"
	"github.com/soyeahso/chaincraft/internal/hooks"
	"github.com/soyeahso/chaincraft/internal/logging"
	"github.com/soyeahso/chaincraft/internal/store"
	"github.com/soyeahso/chaincraft/internal/version"
)

// openStore opens the configured state backend. The returned close func is
// never nil.
func openStore(cfg config.StateConfig, p config.Paths, log *logging.Logger) (store.StateStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "memory":
		log.Info().Msg("using in-memory state store")
		return store.NewMemoryStore(), noop, nil
	case "sqlite":
		dbPath := p.StateDBPath(cfg)
		db, err := store.Open(dbPath, log)
		if err != nil {
			return nil, noop, fmt.Errorf("opening database: %w", err)
		}
		log.Info().Str("path", dbPath).Msg("using SQLite state store")
		return store.NewSQLiteStateStore(db), db.Close, nil
	default:
		dir := config.StateDir(cfg)
		log.Info().Str("dir", dir).Msg("using file state store")
		return store.NewFileStore(afero.NewOsFs(), dir, log), noop, nil
	}
}

// agentHTTPClient bounds dialing and response headers by timeout without
// limiting how long an event stream may stay open.
func agentHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// remoteAgent is the design agent stack over one ConnectionManager.
type remoteAgent struct {
	conns    *agent.ConnectionManager
	designer *agent.Designer
	cfg      config.AgentConfig
}

func newRemoteAgent(cfg config.AgentConfig, hk *hooks.Manager, log *logging.Logger) *remoteAgent {
	dialer := &agent.GradioDialer{
		Space: cfg.Space,
		Options: gradio.Options{
			Token:      cfg.Token,
			Transport:  cfg.Transport,
			HTTPClient: agentHTTPClient(cfg.RequestTimeout),
			UserAgent:  version.UserAgent(),
			OnStatus: func(s gradio.Status) {
				log.Debug().Str("stage", s.Stage).Str("detail", s.Message).Msg("agent status")
			},
		},
		Log: log,
	}

	conns := agent.NewConnectionManager(dialer, agent.ConnectionOptions{
		MaxRetries: cfg.ConnectRetries,
		RetryDelay: cfg.ConnectRetryDelay,
		OnStatus: func(s agent.ConnStatus) {
			if s.State == agent.ConnConnected && s.Generation > 1 {
				hk.EmitAsync(context.Background(), hooks.EventAgentReconnected, map[string]any{
					"space":      cfg.Space,
					"generation": s.Generation,
				})
			}
		},
	}, log)

	jobs := agent.NewJobClient(conns, log)
	designer := agent.NewDesigner(jobs,
		agent.Operation{Endpoint: cfg.Design.Endpoint, Timeout: cfg.Design.Timeout, Retries: cfg.Design.Retries},
		agent.Operation{Endpoint: cfg.Image.Endpoint, Timeout: cfg.Image.Timeout, Retries: cfg.Image.Retries},
		log)

	return &remoteAgent{conns: conns, designer: designer, cfg: cfg}
}

func (a *remoteAgent) status() gateway.AgentStatus {
	return gateway.AgentStatus{
		Space:      a.cfg.Space,
		Transport:  a.cfg.Transport,
		Connected:  a.conns.Connected(),
		Generation: a.conns.Generation(),
		Dials:      a.conns.Dials(),
	}
}

func (a *remoteAgent) Close() error {
	return a.conns.Close()
}
