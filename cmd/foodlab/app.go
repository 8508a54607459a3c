package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"foodlab/internal/adapters/export"
	"foodlab/internal/adapters/modules"
	"foodlab/internal/backup"
	"foodlab/internal/blob"
	"foodlab/internal/config"
	"foodlab/internal/core"
)

// app holds every wired service for one process.
type app struct {
	cfg         config.Config
	log         *zap.Logger
	registry    *core.Registry
	bus         *core.Bus
	blobs       blob.Store
	prom        *core.PrometheusRecorder
	metrics     core.MetricsRecorder
	display     *core.MemoryDisplay
	modules     []*modules.Module
	importer    *modules.ImportModule
	aggregation *core.AggregationService
	audit       *export.AuditLog
	exporter    *export.Exporter
	rod         *export.RodRasterizer
	backup      *backup.Service
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	slots, err := core.OpenSlotStore(cfg.StorageOptions())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.BlobOptions())
	if err != nil {
		_ = slots.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	a := &app{cfg: cfg, log: log, bus: core.NewBus(), blobs: blobs, prom: core.NewPrometheusRecorder()}
	a.metrics = a.prom
	if err := a.prom.PublishExpvar("foodlab_metrics"); err != nil {
		log.Debug("expvar metrics not published", zap.Error(err))
	}
	a.registry = core.NewRegistry(slots, core.WithLogger(log.Named("store")), core.WithMetrics(a.metrics))

	targets := []string{core.TotalTarget, core.PathogenPositiveTarget}
	for _, c := range core.Categories() {
		targets = append(targets, core.CountTarget(c), core.PassTarget(c))
	}
	a.display = core.NewMemoryDisplay(targets...)
	a.aggregation = core.NewAggregationService(a.registry, a.display, core.WithLogger(log.Named("aggregate")))

	for _, c := range core.Categories() {
		desc, err := core.Describe(c)
		if err != nil {
			return nil, err
		}
		mlog := modules.WithLogger(log.Named("module"))
		if desc.ImportDriven {
			a.importer, err = modules.NewImport(a.registry, a.bus, modules.Config{Category: c}, mlog)
		} else {
			var m *modules.Module
			m, err = modules.New(a.registry, a.bus, modules.Config{Category: c}, mlog)
			a.modules = append(a.modules, m)
		}
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", c, err)
		}
	}

	a.audit = export.NewAuditLog(log, 0)
	loader, region, err := a.exportLoader(cfg.Export.Rasterizer)
	if err != nil {
		return nil, err
	}
	a.exporter = export.NewExporter(loader, blobs,
		export.WithLogger(log.Named("export")),
		export.WithMetrics(a.metrics),
		export.WithAudit(a.audit),
		export.WithTitle(cfg.Export.Title),
		export.WithRegion(region))
	a.backup = backup.New(a.registry, a.bus, blobs,
		backup.WithLogger(log.Named("backup")),
		backup.WithMetrics(a.metrics))
	return a, nil
}

// exportLoader picks the rasterizer named in the config.
func (a *app) exportLoader(name string) (export.Loader, export.Region, error) {
	region := export.Region{Scale: a.cfg.Export.Scale}
	switch name {
	case "", config.RasterizerSummary:
		src := func(ctx context.Context) core.Summary {
			return a.aggregation.Compute(ctx, a.aggregation.Last().Filter)
		}
		raster := export.SummaryRasterizer{Source: src, Title: a.cfg.Export.Title}
		if a.cfg.Export.FontPath != "" {
			face, err := export.LoadFace(a.cfg.Export.FontPath, 13)
			if err != nil {
				return nil, region, err
			}
			raster.Face = face
		}
		return export.Static(export.Capabilities{
			Rasterizer: raster,
			Assembler:  export.PDFAssembler{},
		}), region, nil
	case config.RasterizerRod:
		region.URL = a.cfg.Export.DashboardURL
		if region.URL == "" {
			region.URL = "http://" + localAddr(a.cfg.HTTP.Addr) + "/"
		}
		a.rod = &export.RodRasterizer{Bin: a.cfg.Export.ChromeBin}
		return export.LoadRod(a.rod), region, nil
	default:
		return nil, region, fmt.Errorf("unknown export rasterizer %q", name)
	}
}

func localAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func (a *app) Close() error {
	a.aggregation.Stop()
	var errs []error
	errs = append(errs, a.exporter.Close())
	if a.rod != nil {
		errs = append(errs, a.rod.Close())
	}
	errs = append(errs, a.registry.Close())
	return errors.Join(errs...)
}
