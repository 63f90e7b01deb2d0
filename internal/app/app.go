package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/IReaderorg/IReader-sub034/internal/config"
	"github.com/IReaderorg/IReader-sub034/internal/content"
	"github.com/IReaderorg/IReader-sub034/internal/engines"
	"github.com/IReaderorg/IReader-sub034/internal/eventbus"
	"github.com/IReaderorg/IReader-sub034/internal/httpapi"
	"github.com/IReaderorg/IReader-sub034/internal/observability/metrics"
	rtsup "github.com/IReaderorg/IReader-sub034/internal/runtime/supervisor"
	"github.com/IReaderorg/IReader-sub034/internal/storage"
	"github.com/IReaderorg/IReader-sub034/internal/task/batch"
	"github.com/IReaderorg/IReader-sub034/internal/task/pipeline"
	"github.com/IReaderorg/IReader-sub034/internal/task/trigger"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

// Options selects which outer surfaces Start brings up. The batch service
// always runs.
type Options struct {
	// Serve starts the HTTP API (when enabled in config), the cron triggers
	// and the config watcher.
	Serve bool
}

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor
	opts Options

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engines  *engines.Registry
	batch    *batch.Service
	triggers *trigger.Service
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	http     *httpapi.Server
}

// New loads the config at cfgPath and wires every component. A missing file
// falls back to config.Default.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, err := cfgm.Load()
	missing := errors.Is(err, fs.ErrNotExist)
	switch {
	case missing:
		cfg = config.Default()
		cfgm.Commit(cfg)
	case err != nil:
		return nil, err
	}

	logSvc, root := logx.New(mapLogging(cfg.Logging))
	log := root.Named("app")
	if missing {
		log.Warn("config file not found; using defaults", logx.String("path", cfgPath))
	}
	cfgm.SetLogger(root.Named("config"))

	a, err := build(cfg, root, logSvc)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.log = log
	return a, nil
}

func build(cfg *config.Config, root logx.Logger, logSvc *logx.Service) (*App, error) {
	sc, err := mapStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bcfg, classifier, err := mapTranslation(cfg.Translation)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ccfg, err := mapContent(cfg.Content)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	reg := engines.NewRegistry()
	reg.Register(engines.EnginePseudo, engines.Pseudo{})
	if err := registerEngines(reg, cfg.Engines, root.Named("engines")); err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	src := content.NewHTTPSource(ccfg, &http.Client{}, root.Named("content"))
	runner := pipeline.New(store, src, reg, store, root.Named("pipeline"))
	svc := batch.New(bcfg, root.Named("batch"), batch.Deps{
		Books:      store,
		Chapters:   store,
		Runner:     runner,
		Classifier: classifier,
		Engines:    reg,
		Bus:        bus,
	})

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg, bus)

	trig := trigger.New(svc, store, store, root)
	if err := trig.Apply(mapTriggers(cfg.Triggers)); err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		log:      root,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		engines:  reg,
		batch:    svc,
		triggers: trig,
		metrics:  m,
		registry: promReg,
	}
	if cfg.HTTP.Enabled {
		hc, err := mapHTTP(cfg.HTTP)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.http = httpapi.New(hc, svc, root,
			httpapi.WithGatherer(promReg),
			httpapi.WithHealth(a.health),
		)
	}
	return a, nil
}

func (a *App) Batch() *batch.Service       { return a.batch }
func (a *App) Store() storage.Store        { return a.store }
func (a *App) Engines() *engines.Registry  { return a.engines }
func (a *App) Triggers() *trigger.Service  { return a.triggers }
func (a *App) Logger() logx.Logger         { return a.log }
func (a *App) Config() *config.Config      { return a.cfgm.Get() }

func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// Done is closed when the app supervisor is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

type healthReport struct {
	App      rtsup.Snapshot  `json:"app"`
	Batch    *rtsup.Snapshot `json:"batch,omitempty"`
	HTTP     *rtsup.Snapshot `json:"http,omitempty"`
	Triggers []trigger.Info  `json:"triggers"`
	Events   eventBusReport  `json:"eventbus"`
}

type eventBusReport struct {
	Dropped uint64 `json:"dropped"`
}

func (a *App) health() any {
	r := healthReport{
		App:      a.sup.Snapshot(),
		Triggers: a.triggers.Snapshot(),
		Events:   eventBusReport{Dropped: a.bus.Dropped()},
	}
	if sup := a.batch.Supervisor(); sup != nil {
		snap := sup.Snapshot()
		r.Batch = &snap
	}
	if a.http != nil {
		if sup := a.http.Supervisor(); sup != nil {
			snap := sup.Snapshot()
			r.HTTP = &snap
		}
	}
	return r
}

func (a *App) Start(ctx context.Context, opts Options) error {
	a.opts = opts
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.batch.Start(a.sup.Context())

	a.sup.Go("metrics.collect", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})
	a.sup.Go("eventbus.log", a.logEvents)

	if !opts.Serve {
		a.log.Info("app started", logx.Bool("serve", false))
		return nil
	}

	if a.http != nil {
		if err := a.http.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("http api: %w", err)
		}
	}
	a.triggers.Start(a.sup.Context())

	a.cfgm.SetValidator(validateReload)
	cfgCh, unsub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer unsub()
		return a.reloadLoop(c, cfgCh)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.DefaultRestartPolicy)

	a.log.Info("app started", logx.Bool("serve", true), logx.String("http", a.HTTPAddr()))
	return nil
}

func (a *App) logEvents(ctx context.Context) error {
	ch, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

// Stop shuts components down in reverse start order. Each step is bounded so
// one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		err := a.closeStore()
		_ = a.logs.Close()
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(c); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	if a.opts.Serve {
		step("triggers", 2*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
		if a.http != nil {
			step("http", 6*time.Second, a.http.Stop)
		}
	}
	step("batch", 5*time.Second, a.batch.Stop)
	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	err := a.closeStore()

	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
