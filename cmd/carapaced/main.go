// Carapace broker daemon — binds the IPC transports and mediates every
// tool invocation the sandboxed agent containers make.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fred-drake/carapace/pkg/api"
	"github.com/fred-drake/carapace/pkg/audit"
	"github.com/fred-drake/carapace/pkg/catalog"
	"github.com/fred-drake/carapace/pkg/config"
	"github.com/fred-drake/carapace/pkg/confirm"
	"github.com/fred-drake/carapace/pkg/events"
	"github.com/fred-drake/carapace/pkg/pipeline"
	"github.com/fred-drake/carapace/pkg/ratelimit"
	"github.com/fred-drake/carapace/pkg/router"
	"github.com/fred-drake/carapace/pkg/sanitize"
	"github.com/fred-drake/carapace/pkg/session"
	"github.com/fred-drake/carapace/pkg/transport"
	"github.com/fred-drake/carapace/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "/etc/carapace"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory before anything reads the
	// environment.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Info("No .env file loaded, continuing with existing environment", "path", envPath)
	}

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Broker exited with error", "error", err)
		os.Exit(1)
	}
}

// run constructs the broker bottom-up — the dependency graph is a DAG:
// the sanitizer is a leaf, the audit log depends on it, the router on
// both — then serves until a shutdown signal.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Leaves.
	sanitizer := sanitize.New()
	auditLog, err := audit.Open(cfg.Audit.Dir, sanitizer)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(cfg.RateLimit)
	gate := confirm.NewGate(time.Duration(cfg.Confirmation.TimeoutSeconds) * time.Second)
	approvals := confirm.NewApprovals(time.Duration(cfg.Confirmation.TimeoutSeconds) * time.Second)
	sessions := session.NewManager(limiter, gate)
	cat := catalog.New()

	// Transports. Socket files live under a host-controlled 0700 dir.
	if err := os.MkdirAll(cfg.Transport.SocketDir, 0o700); err != nil {
		return err
	}
	factory := transport.NewZMQFactory(ctx)

	pub, err := factory.NewPublisher(cfg.Transport.EventEndpoint())
	if err != nil {
		return err
	}
	bus := events.NewBus(pub)

	registry, err := events.NewRegistry()
	if err != nil {
		return err
	}
	listener, err := newIngressListener(factory, cfg, registry, sessions, bus)
	if err != nil {
		return err
	}

	reqSocket, err := factory.NewRouter(cfg.Transport.RequestEndpoint())
	if err != nil {
		return err
	}

	// Request-processing engine.
	pl := pipeline.New(cat, limiter, approvals, gate, cfg.ToolRestrictions)
	executor := router.NewExecutor(router.ExecutorConfig{
		HandlerTimeout:   time.Duration(cfg.Handler.TimeoutMS) * time.Millisecond,
		MaxResponseBytes: cfg.Handler.MaxResponseBytes,
	})
	rtr := router.New(reqSocket, sessions, pl, executor, sanitizer, auditLog, bus)

	// Registration completes before request serving begins.
	if err := catalog.RegisterIntrinsics(cat, sessions, rtr); err != nil {
		return err
	}

	if err := rtr.Start(); err != nil {
		return err
	}
	slog.Info("Broker serving",
		"version", version.Full(),
		"request_endpoint", cfg.Transport.RequestEndpoint(),
		"event_endpoint", cfg.Transport.EventEndpoint(),
		"tools", len(cat.List()))

	// Admin surface. Each WebSocket client gets its own bus subscription.
	apiServer := api.NewServer(gate, auditLog, sessions, rtr, func(prefixes ...string) (transport.Subscriber, error) {
		return factory.NewSubscriber(cfg.Transport.EventEndpoint(), prefixes...)
	})
	apiErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(cfg.API.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErr <- err
		}
	}()
	slog.Info("Admin API serving", "addr", cfg.API.ListenAddr)

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-apiErr:
		slog.Error("Admin API failed", "error", err)
	}

	// Deterministic shutdown: pending confirmations resolve as timeout,
	// in-flight handlers get a grace period, transports close linger-zero.
	gate.CancelAll()
	rtr.Stop(10 * time.Second)
	if listener != nil {
		listener.Close()
	}
	pub.Close()
	reqSocket.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Admin API shutdown error", "error", err)
	}

	slog.Info("Broker stopped")
	return nil
}

// newIngressListener subscribes to the external ingress endpoint and
// feeds validated lifecycle signals into the session manager. Absence of
// an ingress publisher is not an error — sessions can also be managed via
// the admin API.
func newIngressListener(
	factory transport.Factory,
	cfg *config.Config,
	registry *events.Registry,
	sessions *session.Manager,
	bus *events.Bus,
) (*events.Listener, error) {
	sub, err := factory.NewSubscriber(cfg.Transport.IngressEndpoint())
	if err != nil {
		return nil, err
	}
	listener := events.NewListener(sub, registry)

	if err := listener.OnEvent(events.TopicSessionStarted, func(_ string, payload map[string]any) {
		var p events.SessionStartedPayload
		if err := events.DecodePayload(payload, &p); err != nil {
			slog.Warn("Malformed session.started payload", "error", err)
			return
		}
		if _, err := sessions.Create(session.Params{
			ContainerID: p.ContainerID,
			Group:       p.Group,
			Source:      p.Source,
		}); err != nil {
			slog.Warn("Failed to create session from event", "container_id", p.ContainerID, "error", err)
			return
		}
		slog.Info("Session started", "container_id", p.ContainerID, "group", p.Group)
	}); err != nil {
		return nil, err
	}

	if err := listener.OnEvent(events.TopicSessionStopped, func(_ string, payload map[string]any) {
		var p events.SessionStoppedPayload
		if err := events.DecodePayload(payload, &p); err != nil {
			slog.Warn("Malformed session.stopped payload", "error", err)
			return
		}
		if err := sessions.Destroy(p.ContainerID); err != nil {
			slog.Warn("Failed to destroy session from event", "container_id", p.ContainerID, "error", err)
			return
		}
		bus.Forget(p.ContainerID)
		slog.Info("Session stopped", "container_id", p.ContainerID)
	}); err != nil {
		return nil, err
	}

	if err := listener.OnEvent(events.TopicMessageInbound, func(_ string, payload map[string]any) {
		var p events.MessageInboundPayload
		if err := events.DecodePayload(payload, &p); err != nil {
			slog.Warn("Malformed message.inbound payload", "error", err)
			return
		}
		// Delivery into the container is the runtime adapter's job; the
		// broker's part is validation and visibility.
		bus.PublishSystem(p.ContainerID, "inbound message accepted")
	}); err != nil {
		return nil, err
	}

	if err := listener.Start(); err != nil {
		return nil, err
	}
	return listener, nil
}
