package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/IReaderorg/IReader-sub034/internal/config"
	"github.com/IReaderorg/IReader-sub034/internal/task/trigger"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

// validateReload rejects a reloaded config before it is committed.
func validateReload(_ context.Context, cfg *config.Config) error {
	var errs []error
	if _, _, err := mapTranslation(cfg.Translation); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapContent(cfg.Content); err != nil {
		errs = append(errs, err)
	}
	for _, t := range cfg.Triggers {
		if err := trigger.Validate(t.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("triggers %s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

// reloadLoop applies committed configs. Logging, translation and triggers
// change live; other sections only log that a restart is needed.
func (a *App) reloadLoop(ctx context.Context, ch <-chan *config.Config) error {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-ch:
			if !ok {
				return nil
			}
			a.apply(last, cfg)
			last = cfg
		}
	}
}

func (a *App) apply(prev, next *config.Config) {
	ch := config.SummarizeConfigChange(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if ch.Has("logging") {
		if err := a.logs.Apply(mapLogging(next.Logging)); err != nil {
			a.log.Warn("logging config partially applied", logx.Err(err))
		}
	}
	if ch.Has("translation") {
		bcfg, classifier, err := mapTranslation(next.Translation)
		if err != nil {
			a.log.Warn("invalid translation config; keeping previous", logx.Err(err))
		} else {
			a.batch.Apply(bcfg)
			a.batch.SetClassifier(classifier)
		}
	}
	if ch.Has("triggers") {
		if err := a.triggers.Apply(mapTriggers(next.Triggers)); err != nil {
			a.log.Warn("invalid triggers; keeping previous", logx.Err(err))
		}
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}
