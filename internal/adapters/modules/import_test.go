package modules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"foodlab/internal/core"
	"foodlab/internal/infra/persistence/memory"
)

func newImportModule(t *testing.T, f *fixture) *ImportModule {
	t.Helper()
	m, err := NewImport(f.reg, f.bus, Config{Category: core.CategoryPathogen})
	if err != nil {
		t.Fatalf("new import module: %v", err)
	}
	return m
}

func TestImportArrayAssignsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.NewStore())
	m := newImportModule(t, f)
	payload := []byte(`[{"sampleId":"S1","positiveItems":"无"},{"sampleId":"S2"},{"sampleId":"S3"}]`)
	report, err := m.Import(ctx, "batch.json", payload)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 3 || report.Failed != 0 || len(report.IDs) != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	seen := map[string]bool{}
	for _, id := range report.IDs {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if n := len(m.Store().All(ctx)); n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}
	if len(f.events) != 1 || f.events[0].Action != core.ActionImport || f.events[0].Count != 3 {
		t.Fatalf("expected a single import event, got %+v", f.events)
	}
}

func TestImportSingleObject(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	m := newImportModule(t, f)
	report, err := m.Import(context.Background(), "one.JSON", []byte(`{"sampleId":"S9"}`))
	if err != nil || report.Imported != 1 {
		t.Fatalf("report %+v err %v", report, err)
	}
}

func TestImportMalformedLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.NewStore())
	m := newImportModule(t, f)
	if _, err := m.Import(ctx, "seed.json", []byte(`{"sampleId":"S0"}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cases := map[string]string{
		"truncated":  `[{"sampleId":"S1"}`,
		"scalar":     `42`,
		"mixed list": `[{"sampleId":"S1"}, 7]`,
	}
	for name, payload := range cases {
		_, err := m.Import(ctx, "bad.json", []byte(payload))
		if !errors.Is(err, core.ErrImportParse) {
			t.Fatalf("%s: expected ErrImportParse, got %v", name, err)
		}
	}
	var ie *core.ImportError
	_, err := m.Import(ctx, "bad.json", []byte(`[{"a":1}, "x"]`))
	if !errors.As(err, &ie) || ie.Index != 1 {
		t.Fatalf("expected element index 1, got %v", err)
	}
	if n := len(m.Store().All(ctx)); n != 1 {
		t.Fatalf("store changed: %d records", n)
	}
	if len(f.events) != 1 {
		t.Fatalf("rejected files must not publish, got %+v", f.events)
	}
}

func TestImportRejectsNonJSONBeforeReading(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	m := newImportModule(t, f)
	// The file does not exist: the extension check has to fail first.
	_, err := m.ImportFile(context.Background(), filepath.Join(t.TempDir(), "report.docx"))
	if !errors.Is(err, core.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	notice := ImportNotice(ImportReport{}, err)
	if notice.Level != LevelError || notice.Message != MsgImportFormat {
		t.Fatalf("notice %+v", notice)
	}
}

func TestImportFileReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.json")
	if err := os.WriteFile(path, []byte(`[{"sampleId":"A"},{"sampleId":"B"}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := newFixture(t, memory.NewStore())
	m := newImportModule(t, f)
	report, err := m.ImportFile(context.Background(), path)
	if err != nil || report.Filename != "samples.json" || report.Imported != 2 {
		t.Fatalf("report %+v err %v", report, err)
	}
}

func TestImportDerivesRisk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.NewStore())
	m := newImportModule(t, f)
	payload := []byte(`[
		{"sampleId":"P1","positiveDetails":[{"pathogen":"沙门氏菌","ct":28.4,"ctRaw":"28.4"},{"pathogen":"诺如病毒","ct":33.1,"ctRaw":"33.1"}]},
		{"sampleId":"P2","positiveDetails":[]},
		{"sampleId":"P3","riskLevel":"高风险","positiveItems":"手工录入"}
	]`)
	if _, err := m.Import(ctx, "ct.json", payload); err != nil {
		t.Fatalf("import: %v", err)
	}
	bySample := map[string]core.Record{}
	for _, r := range m.Store().All(ctx) {
		bySample[r.Text("sampleId")] = r
	}
	p1 := bySample["P1"]
	if p1.Text("riskLevel") != core.RiskMedium || p1.Text("positiveItems") != "沙门氏菌(Ct:28.4), 诺如病毒(Ct:33.1)" {
		t.Fatalf("unexpected P1 risk %v", p1)
	}
	if p1.Text("riskReason") != "最高风险项：沙门氏菌，Ct值=28.4" {
		t.Fatalf("reason %q", p1.Text("riskReason"))
	}
	if p2 := bySample["P2"]; p2.Text("riskLevel") != core.RiskNone || p2.Text("positiveItems") != core.NoPositiveItems {
		t.Fatalf("unexpected P2 risk %v", p2)
	}
	if p3 := bySample["P3"]; p3.Text("positiveItems") != "手工录入" {
		t.Fatalf("explicit risk must be kept: %v", p3)
	}
	table := m.Render(ctx)
	for _, row := range table.Rows {
		if row.Cells[len(row.Cells)-2].Class == "" {
			t.Fatalf("risk badge missing: %+v", row.Cells)
		}
	}
}

func TestImportModuleRejectsSubmission(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	m := newImportModule(t, f)
	notice, _ := m.HandleSubmit(context.Background(), map[string]any{"sampleId": "X"})
	if notice.Level != LevelError || notice.Message != MsgImportOnly {
		t.Fatalf("notice %+v", notice)
	}
}

func TestHandleImportNotices(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	m := newImportModule(t, f)
	notice, report := m.HandleImport(context.Background(), "x.json", []byte(`[{"a":1},{"b":2}]`))
	if notice.Message != "成功导入 2 条记录" || report.Imported != 2 {
		t.Fatalf("notice %+v report %+v", notice, report)
	}
	notice, _ = m.HandleImport(context.Background(), "x.json", []byte(`{`))
	if notice.Level != LevelError || notice.Message != "文件解析失败：invalid JSON" {
		t.Fatalf("notice %+v", notice)
	}
	if got := ImportNotice(ImportReport{Imported: 1, Failed: 1}, nil); got.Message != "成功导入 1 条记录，1 条失败" {
		t.Fatalf("partial notice %+v", got)
	}
}
