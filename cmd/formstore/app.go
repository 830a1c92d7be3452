package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/andreyvit/formstore"
	"github.com/andreyvit/formstore/formdef"
	"github.com/andreyvit/formstore/metrics"
	"github.com/andreyvit/formstore/sqlstore"
	"github.com/andreyvit/formstore/submission"
)

type app struct {
	cfg     Config
	logger  *slog.Logger
	ds      formstore.Datastore
	blobs   *formstore.BlobStore
	store   *submission.Store
	metrics *metrics.Collector
}

func openApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector("formstore"),
	}
	var err error
	switch cfg.Backend {
	case BackendPostgres:
		a.ds, err = sqlstore.Open(ctx, cfg.PostgresDSN, sqlstore.Options{
			Logger:  logger,
			Verbose: cfg.Verbose,
			Schema:  cfg.PostgresSchema,
		})
	default:
		a.ds, err = formstore.OpenBolt(cfg.BoltPath, formstore.Options{
			Logger:  logger,
			Verbose: cfg.Verbose,
		})
	}
	if err != nil {
		return nil, err
	}
	a.blobs, err = formstore.NewBlobStore(ctx, a.ds, formstore.BlobOptions{
		ChunkSize:     cfg.ChunkSize,
		MaxObjectSize: cfg.MaxBlobSize,
		CacheChunks:   cfg.CacheChunks,
		Logger:        logger,
		Metrics:       a.metrics,
	})
	if err != nil {
		a.ds.Close()
		return nil, err
	}
	a.store = submission.NewStore(a.ds, submission.Options{
		Logger:          logger,
		Verbose:         cfg.Verbose,
		Metrics:         a.metrics,
		LoadConcurrency: cfg.LoadConcurrency,
		Blobs:           a.blobs,
	})
	return a, nil
}

func (a *app) Close() error {
	return a.ds.Close()
}

func (a *app) loadForm(ctx context.Context, path string) (*submission.Form, error) {
	if path == "" {
		return nil, fmt.Errorf("--form is required")
	}
	form, err := formdef.Load(path)
	if err != nil {
		return nil, err
	}
	if err := a.store.EnsureForm(ctx, form); err != nil {
		return nil, err
	}
	return form, nil
}

// printMetrics writes every non-zero counter as name{labels} value.
func (a *app) printMetrics(w io.Writer) error {
	families, err := a.metrics.Registry().Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			name := mf.GetName()
			for i, lp := range m.GetLabel() {
				if i == 0 {
					name += "{"
				} else {
					name += ","
				}
				name += lp.GetName() + "=" + lp.GetValue()
				if i == len(m.GetLabel())-1 {
					name += "}"
				}
			}
			lines = append(lines, fmt.Sprintf("%s %v", name, v))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
