package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"foodlab/internal/core"
)

// Import notice texts.
const (
	MsgImported      = "成功导入 %d 条记录"
	MsgImportPartial = "成功导入 %d 条记录，%d 条失败"
	MsgImportFormat  = "请选择JSON文件(.json格式)"
	MsgImportParse   = "文件解析失败：%s"
	MsgImportFailed  = "导入失败"
)

// ImportReport summarises one import batch.
type ImportReport struct {
	Filename string   `json:"filename"`
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	IDs      []string `json:"ids,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportModule is the module of an import-driven category. It has no submission
// surface; records arrive as JSON files.
type ImportModule struct {
	*Module
}

// NewImport binds an import-driven category.
func NewImport(reg *core.Registry, bus *core.Bus, cfg Config, opts ...Option) (*ImportModule, error) {
	m, err := New(reg, bus, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if !m.desc.ImportDriven {
		return nil, fmt.Errorf("category %s is not import-driven", cfg.Category)
	}
	return &ImportModule{Module: m}, nil
}

// ImportFile checks the extension before reading path, then imports it.
func (m *ImportModule) ImportFile(ctx context.Context, path string) (ImportReport, error) {
	name := filepath.Base(path)
	if err := checkExtension(name); err != nil {
		return ImportReport{Filename: name}, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return ImportReport{Filename: name}, fmt.Errorf("read %s: %w", name, err)
	}
	return m.Import(ctx, name, payload)
}

// Import parses payload as one object or an array of objects and saves each element.
// A parse failure rejects the whole file. Element saves are independent; one
// data-changed event follows the batch when anything was saved.
func (m *ImportModule) Import(ctx context.Context, filename string, payload []byte) (ImportReport, error) {
	report := ImportReport{Filename: filename}
	if err := checkExtension(filename); err != nil {
		return report, err
	}
	items, err := parseImport(filename, payload)
	if err != nil {
		m.log.Warn("import rejected", zap.String("file", filename), zap.Error(err))
		return report, err
	}
	for i, item := range items {
		rec, err := m.store.Save(ctx, enrichRisk(item))
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("element %d: %v", i, err))
			continue
		}
		report.Imported++
		report.IDs = append(report.IDs, rec.IDString())
	}
	if report.Imported > 0 {
		m.bus.Publish(core.ChangeEvent{Category: m.desc.Category, Action: core.ActionImport, Count: report.Imported})
	}
	m.log.Info("import finished",
		zap.String("file", filename),
		zap.Int("imported", report.Imported),
		zap.Int("failed", report.Failed))
	return report, nil
}

// HandleImport runs Import and converts the outcome into a notice.
func (m *ImportModule) HandleImport(ctx context.Context, filename string, payload []byte) (Notice, ImportReport) {
	report, err := m.Import(ctx, filename, payload)
	return ImportNotice(report, err), report
}

// ImportNotice converts an import outcome into a user notice.
func ImportNotice(report ImportReport, err error) Notice {
	var ie *core.ImportError
	switch {
	case err == nil && report.Imported == 0 && report.Failed > 0:
		return Notice{Level: LevelError, Message: MsgImportFailed}
	case err == nil && report.Failed > 0:
		return Notice{Level: LevelSuccess, Message: fmt.Sprintf(MsgImportPartial, report.Imported, report.Failed)}
	case err == nil:
		return Notice{Level: LevelSuccess, Message: fmt.Sprintf(MsgImported, report.Imported), Reset: true}
	case errors.As(err, &ie):
		return Notice{Level: LevelError, Message: fmt.Sprintf(MsgImportParse, ie.Reason)}
	case errors.Is(err, core.ErrUnsupportedFormat):
		return Notice{Level: LevelError, Message: MsgImportFormat}
	default:
		return Notice{Level: LevelError, Message: MsgImportFailed}
	}
}

func checkExtension(filename string) error {
	if !strings.EqualFold(filepath.Ext(filename), ".json") {
		return fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, filename)
	}
	return nil
}

func parseImport(filename string, payload []byte) ([]map[string]any, error) {
	if !gjson.ValidBytes(payload) {
		return nil, &core.ImportError{Filename: filename, Index: -1, Reason: "invalid JSON"}
	}
	doc := gjson.ParseBytes(payload)
	var elements []gjson.Result
	switch {
	case doc.IsObject():
		elements = []gjson.Result{doc}
	case doc.IsArray():
		elements = doc.Array()
	default:
		return nil, &core.ImportError{Filename: filename, Index: -1, Reason: "expected an object or an array of objects"}
	}
	out := make([]map[string]any, 0, len(elements))
	for i, el := range elements {
		if !el.IsObject() {
			return nil, &core.ImportError{Filename: filename, Index: i, Reason: "not an object"}
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(el.Raw)))
		dec.UseNumber()
		fields := map[string]any{}
		if err := dec.Decode(&fields); err != nil {
			return nil, &core.ImportError{Filename: filename, Index: i, Reason: err.Error()}
		}
		out = append(out, fields)
	}
	return out, nil
}

// enrichRisk derives riskLevel, riskReason and positiveItems for samples that
// list positiveDetails without a risk level.
func enrichRisk(fields map[string]any) map[string]any {
	rec := core.Record(fields)
	if _, ok := fields["positiveDetails"]; !ok || rec.Text("riskLevel") != "" {
		return fields
	}
	risk := core.AssessRisk(core.PositiveDetails(rec))
	fields["riskLevel"] = risk.Level
	fields["riskReason"] = risk.Reason
	fields["positiveItems"] = risk.PositiveItems
	return fields
}
