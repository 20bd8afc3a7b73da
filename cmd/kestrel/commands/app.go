package commands

import (
	"context"

	"github.com/kestrelhq/kestrel/pkg/backend"
	"github.com/kestrelhq/kestrel/pkg/cloudinit"
	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/executor"
	"github.com/kestrelhq/kestrel/pkg/journal"
	"github.com/kestrelhq/kestrel/pkg/state"
	"github.com/kestrelhq/kestrel/pkg/telemetry"
)

// app bundles everything a command needs: loaded configuration, the
// telemetry stack, the backend, and the optional journal.
type app struct {
	cfg     *config.Config
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	journal *journal.Journal
	backend backend.Backend
}

// newApp loads the configuration and wires up the shared components.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.Logging.Level = cfg.Telemetry.LogLevel
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	tcfg.Tracing.Enabled = cfg.Telemetry.Tracing
	tcfg.Metrics.Enabled = cfg.Telemetry.MetricsListen != ""
	tcfg.Metrics.ListenAddress = cfg.Telemetry.MetricsListen

	log, err := telemetry.NewLogger(tcfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		tracer:  tracer,
		backend: backend.NewVirsh(backend.WithURI(connectURI)),
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			// History is best-effort; a broken journal must not stop
			// reconciliation.
			log.WithError(err).Warn("journal unavailable")
		} else {
			a.journal = j
		}
	}

	return a, nil
}

// close releases the app's resources.
func (a *app) close(ctx context.Context) {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.WithError(err).Warn("journal close failed")
		}
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.log.WithError(err).Warn("tracer shutdown failed")
	}
}

// newExecutor builds an executor wired with the app's telemetry and
// journal, plus a cloud-init renderer for node seed volumes.
func (a *app) newExecutor() (*executor.Executor, error) {
	renderer, err := cloudinit.NewRenderer(a.cfg.SSH.User, a.cfg.SSH.AuthorizedKey, a.cfg.Network.CIDR)
	if err != nil {
		return nil, err
	}

	opts := []executor.Option{
		executor.WithRenderer(renderer),
		executor.WithMetrics(a.metrics),
		executor.WithTracer(a.tracer),
	}
	if a.journal != nil {
		opts = append(opts, executor.WithJournal(a.journal))
	}
	return executor.New(a.backend, a.log, opts...), nil
}

// states fetches the current inventory and derives the desired one,
// checking referential integrity of the desired state against the
// union of both.
func (a *app) states(ctx context.Context) (current, desired state.State, err error) {
	desired, err = state.FromConfig(a.cfg)
	if err != nil {
		return state.State{}, state.State{}, err
	}
	if err = state.ValidateReferences(desired); err != nil {
		return state.State{}, state.State{}, err
	}

	current, err = state.FetchCurrent(ctx, a.backend)
	if err != nil {
		return state.State{}, state.State{}, err
	}
	return current, desired, nil
}

// managedOnly filters the current inventory down to the resources whose
// names the configuration owns. Destroy operates on this subset so a
// cluster teardown never touches unrelated resources on the same host,
// such as the libvirt default network.
func managedOnly(current, desired state.State) state.State {
	names := make(map[string]bool)
	for _, n := range desired.Networks {
		names["network/"+n.Name] = true
	}
	for _, p := range desired.Pools {
		names["pool/"+p.Name] = true
	}
	for _, v := range desired.Volumes {
		names["volume/"+v.Name] = true
	}
	for _, d := range desired.Domains {
		names["domain/"+d.Name] = true
	}

	out := state.State{CapturedAt: current.CapturedAt}
	for _, n := range current.Networks {
		if names["network/"+n.Name] {
			out.Networks = append(out.Networks, n)
		}
	}
	for _, p := range current.Pools {
		if names["pool/"+p.Name] {
			out.Pools = append(out.Pools, p)
		}
	}
	for _, v := range current.Volumes {
		if names["volume/"+v.Name] {
			out.Volumes = append(out.Volumes, v)
		}
	}
	for _, d := range current.Domains {
		if names["domain/"+d.Name] {
			out.Domains = append(out.Domains, d)
		}
	}
	return out
}
