package integration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"foodlab/internal/adapters/export"
	"foodlab/internal/adapters/modules"
	"foodlab/internal/backup"
	"foodlab/internal/blob"
	"foodlab/internal/core"
)

// TestIntegrationSmoke drives one submit, aggregate, export, backup and restore
// cycle over every in-process slot driver and blob adapter.
func TestIntegrationSmoke(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC) }

	slotVariants := []struct {
		name string
		opts func(t *testing.T) core.StorageOptions
	}{
		{"memory-slots", func(*testing.T) core.StorageOptions { return core.StorageOptions{Driver: core.StorageMemory} }},
		{"file-slots", func(t *testing.T) core.StorageOptions {
			return core.StorageOptions{Driver: core.StorageFile, FileRoot: t.TempDir()}
		}},
		{"sqlite-slots", func(t *testing.T) core.StorageOptions {
			return core.StorageOptions{Driver: core.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "foodlab.db")}
		}},
	}
	blobVariants := []struct {
		name string
		open func(t *testing.T) blob.Store
	}{
		{"memory-blob", func(*testing.T) blob.Store { return blob.NewMemory() }},
		{"filesystem-blob", func(t *testing.T) blob.Store {
			bs, err := blob.Open(context.Background(), blob.Options{Driver: blob.DriverFilesystem, FSRoot: t.TempDir()})
			if err != nil {
				t.Fatalf("open fs blob: %v", err)
			}
			return bs
		}},
	}

	for _, sv := range slotVariants {
		for _, bv := range blobVariants {
			t.Run(sv.name+"/"+bv.name, func(t *testing.T) {
				ctx := context.Background()
				slots, err := core.OpenSlotStore(sv.opts(t))
				if err != nil {
					t.Fatalf("open slots: %v", err)
				}
				metrics := core.NewPrometheusRecorder()
				reg := core.NewRegistry(slots, core.WithClock(clock), core.WithMetrics(metrics))
				t.Cleanup(func() { _ = reg.Close() })
				bus := core.NewBus()
				display := core.NewMemoryDisplay()
				agg := core.NewAggregationService(reg, display, core.WithClock(clock))
				agg.Start(ctx, bus)
				defer agg.Stop()
				store := bv.open(t)

				tableware, err := modules.New(reg, bus, modules.Config{Category: core.CategoryTableware})
				if err != nil {
					t.Fatalf("tableware module: %v", err)
				}
				notice, _ := tableware.HandleSubmit(ctx, map[string]any{
					"testDate": "2024-05-06",
					"canteen":  "一食堂",
					"atpPoints": []any{
						map[string]any{"loc": "碗", "rlu": 120},
						map[string]any{"loc": "盘", "rlu": 640},
					},
				})
				if notice.Level != modules.LevelSuccess {
					t.Fatalf("submit notice %+v", notice)
				}
				pathogen, err := modules.NewImport(reg, bus, modules.Config{Category: core.CategoryPathogen})
				if err != nil {
					t.Fatalf("pathogen module: %v", err)
				}
				if _, err := pathogen.Import(ctx, "batch.json", []byte(`{"sampleId":"P1","positiveDetails":[{"pathogen":"诺如病毒","ct":18}]}`)); err != nil {
					t.Fatalf("import: %v", err)
				}

				summary := agg.Last()
				if st := summary.Stat(core.CategoryTableware); st.Count != 2 || st.PassRate != 50 {
					t.Fatalf("tableware stats %+v", st)
				}
				if v, _ := display.Value(core.PathogenPositiveTarget); v != "1" {
					t.Fatalf("pathogen positive display %q", v)
				}
				if v, _ := display.Value(core.TotalTarget); v != "3" {
					t.Fatalf("total display %q", v)
				}

				exp := export.NewExporter(export.Static(export.Capabilities{
					Rasterizer: export.SummaryRasterizer{Source: agg.Refresh},
					Assembler:  export.PDFAssembler{},
				}), store, export.WithClock(clock))
				exp.Load(ctx)
				if err := exp.Wait(ctx); err != nil {
					t.Fatalf("load: %v", err)
				}
				art, err := exp.Export(ctx, "")
				if err != nil {
					t.Fatalf("export: %v", err)
				}
				_, data, err := blob.ReadAll(ctx, store, art.Key)
				if err != nil || !bytes.HasPrefix(data, []byte("%PDF")) {
					t.Fatalf("stored report unreadable: %v", err)
				}

				svc := backup.New(reg, bus, store, backup.WithClock(clock))
				res, err := svc.Backup(ctx)
				if err != nil || res.Records != 2 {
					t.Fatalf("backup: %+v %v", res, err)
				}
				if notice, _ := tableware.HandleClick(ctx, modules.ClickEvent{Marker: modules.DeleteMarker, ID: tableware.Store().All(ctx)[0].IDString(), Confirmed: true}); notice.Message != modules.MsgDeleted {
					t.Fatalf("delete notice %+v", notice)
				}
				if v, _ := display.Value(core.TotalTarget); v != "1" {
					t.Fatalf("total after delete %q", v)
				}
				if _, err := svc.RestoreKey(ctx, res.Key); err != nil {
					t.Fatalf("restore: %v", err)
				}
				if v, _ := display.Value(core.TotalTarget); v != "3" {
					t.Fatalf("total after restore %q", v)
				}

				snap, err := metrics.Snapshot()
				if err != nil || snap.Results["save"]["success"] == 0 {
					t.Fatalf("expected save metrics, got %+v", snap.Results)
				}
			})
		}
	}
}
