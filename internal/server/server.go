// Package server orchestrates all components: COMMS client, module registry, dispatcher, HTTP health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/opsmesh/fleet-agent/internal/config"
	"github.com/opsmesh/fleet-agent/pkg/commsutil"
	"github.com/opsmesh/fleet-agent/pkg/dispatcher"
	"github.com/opsmesh/fleet-agent/pkg/events"
	"github.com/opsmesh/fleet-agent/pkg/modconf"
	"github.com/opsmesh/fleet-agent/pkg/modules"
)

const logPrefix = "server:server"

// Version is the agent release version, reported by the status module,
// the version subcommand and the health endpoint.
const Version = "1.0.0"

// Server is the fleet-agent orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	httpServer *http.Server
	reg        *modules.Registry
	disp       *dispatcher.Dispatcher
	publisher  events.EventPublisher
	instanceID string
	started    time.Time
	ready      atomic.Bool
}

// Run starts the agent, blocks until shutdown signal, then cleans up.
func Run() error {
	// Setup structured logging
	var logLevel slog.Level
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting fleet-agent %s as %s", logPrefix, Version, cfg.Identity))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		started:    time.Now(),
	}

	// Step 1: Load per-module configuration
	conf := modconf.Load(cfg.ModulesConfigDir)

	// Step 2: Build the module registry (built-ins, then the external scan)
	reg := modules.NewRegistry()
	reg.RegisterBuiltins(s.instanceID, Version, s.started)
	reg.LoadExternal(ctx, cfg.ModulesDir, conf, cfg.MetadataTimeout)
	reg.LogLoaded()
	s.reg = reg

	// Step 3: Connect to COMMS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	s.nc = nc
	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, cfg.COMMSURL))

	// Step 4: Event publisher
	if cfg.EventsEnabled {
		publisherOpts := &events.CommsPublisherOpts{}
		if cfg.EventSubject != "" {
			publisherOpts.GlobalEventSubject = cfg.EventSubject
		}
		s.publisher = events.NewCommsPublisher(nc, publisherOpts)
	} else {
		s.publisher = &events.NoOpPublisher{}
	}

	// Step 5: Create dispatcher and subscribe
	s.disp = dispatcher.NewDispatcher(reg, cfg.Identity)

	requestSubject := cfg.RequestSubject
	if requestSubject == "" {
		requestSubject = commsutil.BuildRequestSubject(cfg.Identity)
	}

	sub, err := nc.Subscribe(requestSubject, func(msg *comms.Msg) {
		s.handleMessage(ctx, msg)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, requestSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, requestSubject))

	// Step 6: Start HTTP server
	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.HTTPPort)
	}
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	s.ready.Store(true)
	slog.Info(fmt.Sprintf("%s - Fleet-agent is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	s.ready.Store(false)
	sub.Unsubscribe()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	s.httpServer.Shutdown(shutdownCtx)
	nc.Drain()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// handleMessage serves one inbound request. The transport invokes this
// callback one message at a time, so requests are handled serially in
// delivery order. Module execution is unbounded; only the response send
// is held to the send timeout.
func (s *Server) handleMessage(ctx context.Context, msg *comms.Msg) {
	start := time.Now()

	env, err := dispatcher.DecodeEnvelope(msg.Data)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
		if msg.Reply != "" {
			s.send(msg.Reply, dispatcher.NewErrorResponse("", s.cfg.Identity, "could not decode request"))
		}
		return
	}

	resp := s.disp.Dispatch(ctx, env)

	replyTo := msg.Reply
	if replyTo == "" && env.Sender != "" {
		replyTo = commsutil.BuildReplySubject(env.Sender)
	}
	if replyTo == "" {
		slog.Warn(fmt.Sprintf("%s - Dropping response for request %s: no reply subject and no sender", logPrefix, env.ID))
	} else {
		s.send(replyTo, resp)
	}

	s.publishEvent(ctx, env, resp, start)
}

// send encodes and publishes a response. The send is bounded by the
// configured send timeout via a broker flush; failures are logged and
// never retried.
func (s *Server) send(subject string, resp *dispatcher.ResponseEnvelope) {
	data, err := dispatcher.EncodeResponse(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
		return
	}
	if err := s.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to send response to %s: %v", logPrefix, subject, err))
		return
	}
	if err := s.nc.FlushTimeout(s.cfg.SendTimeout); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to flush response to %s: %v", logPrefix, subject, err))
	}
}

// publishEvent emits the action event for one handled request. Delivery
// is advisory; the publisher logs its own failures.
func (s *Server) publishEvent(ctx context.Context, env *dispatcher.Envelope, resp *dispatcher.ResponseEnvelope, start time.Time) {
	module, action := resp.Request()
	event := &events.ActionEvent{
		ID:         uuid.NewString(),
		Agent:      s.cfg.Identity,
		RequestID:  env.ID,
		Sender:     env.Sender,
		Module:     module,
		Action:     action,
		Outcome:    events.OutcomeSuccess,
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if msg := resp.RequestError(); msg != "" {
		event.Outcome = events.OutcomeError
		event.Error = msg
	}
	_ = s.publisher.PublishAction(ctx, event)
}

// routes builds the operational HTTP mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", s.handleReady())
	mux.HandleFunc("/modules", s.handleModules())
	return mux
}

// healthOutput is the health endpoint response body.
type healthOutput struct {
	Status        string       `json:"status"`
	InstanceID    string       `json:"instance_id"`
	Identity      string       `json:"identity"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Modules       int          `json:"modules"`
	Checks        healthChecks `json:"checks"`
	Timestamp     string       `json:"timestamp"`
}

type healthChecks struct {
	Comms bool `json:"comms"`
}

// health reports agent liveness. The broker check is a bounded
// round-trip, not just the client's connected flag.
func (s *Server) health(ctx context.Context) *healthOutput {
	commsOK := s.nc.IsConnected() && s.nc.FlushWithContext(ctx) == nil
	status := "healthy"
	if !commsOK {
		status = "unhealthy"
	}
	return &healthOutput{
		Status:        status,
		InstanceID:    s.instanceID,
		Identity:      s.cfg.Identity,
		Version:       Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Modules:       s.reg.Len(),
		Checks:        healthChecks{Comms: commsOK},
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		h := s.health(healthCtx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	}
}

func (s *Server) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// moduleSummary is one row of the modules endpoint response.
type moduleSummary struct {
	Name    string   `json:"name"`
	Version string   `json:"version,omitempty"`
	Actions []string `json:"actions"`
}

func moduleSummaries(reg *modules.Registry) []moduleSummary {
	mods := reg.Modules()
	out := make([]moduleSummary, 0, len(mods))
	for _, m := range mods {
		meta := m.Metadata()
		actions := make([]string, 0, len(meta.Actions))
		for _, a := range meta.Actions {
			actions = append(actions, a.Name)
		}
		out = append(out, moduleSummary{Name: m.Name(), Version: meta.Version, Actions: actions})
	}
	return out
}

func (s *Server) handleModules() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(moduleSummaries(s.reg))
	}
}

// homePageTemplate is the HTML for the agent home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Fleet Agent</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Fleet Agent</h1>
  <p class="meta">{{.Health.Identity}} ({{.Health.InstanceID}}), version {{.Health.Version}}.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Broker: {{if .Health.Checks.Comms}}<span class="stat">OK</span>{{else}}<span class="error">Failed</span>{{end}}</p>
    <p>Uptime: <span class="stat">{{.Health.UptimeSeconds}}s</span></p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Modules</h2>
    {{if not .Modules}}
    <p>No modules loaded.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Module</th><th>Version</th><th>Actions</th></tr>
      </thead>
      <tbody>
        {{range .Modules}}
        <tr>
          <td>{{.Name}}</td>
          <td>{{.Version}}</td>
          <td>{{range .Actions}}{{.}} {{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health  *healthOutput
	Modules []moduleSummary
}

// handleHome returns an HTTP handler for the agent home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Health: s.health(ctx), Modules: moduleSummaries(s.reg)}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
