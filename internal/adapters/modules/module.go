// Package modules binds category record stores to submission and display surfaces.
package modules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"foodlab/internal/core"
)

// Level classifies a user notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	// LevelConfirm asks the caller to repeat the action with confirmation.
	LevelConfirm Level = "confirm"
	LevelInfo    Level = "info"
)

// Notice is the user-visible outcome of a module entry point.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
	// Reset tells the submission surface to clear its fields.
	Reset bool `json:"reset,omitempty"`
}

// Notice texts.
const (
	MsgSaved          = "成功保存 %d 条检测记录"
	MsgSaveFailed     = "保存失败，请检查数据完整性"
	MsgDeleted        = "删除成功"
	MsgDeleteFailed   = "删除失败"
	MsgNotFound       = "记录不存在或已删除"
	MsgConfirmDelete  = "确定删除该记录吗？此操作不可恢复！"
	MsgImportOnly     = "该检测类别仅支持文件导入"
	MsgNoData         = "暂无数据"
	MsgNoSubmission   = "没有检测点位数据"
	DeleteMarker      = "delete"
	badgePass         = "badge-pass"
	badgeFail         = "badge-fail"
	defaultPointsName = "points"
)

// Cell is one rendered table cell.
type Cell struct {
	Text     string `json:"text"`
	RowSpan  int    `json:"rowSpan,omitempty"`
	ColSpan  int    `json:"colSpan,omitempty"`
	Class    string `json:"class,omitempty"`
	Action   string `json:"action,omitempty"`
	ActionID string `json:"actionId,omitempty"`
}

// Row is one rendered table row.
type Row struct {
	Cells []Cell `json:"cells"`
}

// Table is the rendered display surface of a module.
type Table struct {
	SurfaceID string   `json:"surfaceId"`
	Headers   []string `json:"headers"`
	Rows      []Row    `json:"rows"`
	Page      *Page    `json:"page,omitempty"`
}

// ClickEvent is a delegated click on the display surface.
type ClickEvent struct {
	Marker    string `json:"marker"`
	ID        string `json:"id"`
	Confirmed bool   `json:"confirmed"`
}

// Config names the category and the surfaces a module is bound to.
type Config struct {
	Category            core.Category
	SubmissionSurfaceID string
	DisplaySurfaceID    string
}

// Option customises a module.
type Option func(*Module)

// WithLogger sets the module logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.log = l
		}
	}
}

// Module is a form-backed category module. Multi-point categories flatten their
// sub-entries into grouped rows.
type Module struct {
	cfg   Config
	desc  core.Descriptor
	store *core.RecordStore
	bus   *core.Bus
	log   *zap.Logger
}

// New resolves the category descriptor and binds the module to its store.
func New(reg *core.Registry, bus *core.Bus, cfg Config, opts ...Option) (*Module, error) {
	desc, err := core.Describe(cfg.Category)
	if err != nil {
		return nil, err
	}
	store, err := reg.Store(cfg.Category)
	if err != nil {
		return nil, err
	}
	if cfg.DisplaySurfaceID == "" {
		cfg.DisplaySurfaceID = string(cfg.Category) + "Records"
	}
	if cfg.SubmissionSurfaceID == "" && !desc.ImportDriven {
		cfg.SubmissionSurfaceID = string(cfg.Category) + "Form"
	}
	m := &Module{cfg: cfg, desc: desc, store: store, bus: bus, log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(zap.String("category", string(cfg.Category)))
	return m, nil
}

// Config returns the resolved module configuration.
func (m *Module) Config() Config { return m.cfg }

// Descriptor returns the category descriptor.
func (m *Module) Descriptor() core.Descriptor { return m.desc }

// Store returns the bound record store.
func (m *Module) Store() *core.RecordStore { return m.store }

// HandleSubmit saves the submitted fields and returns the notice and the
// re-rendered table. A "points" list of mappings on a single-point category
// saves one record per point, each merged over the shared fields.
func (m *Module) HandleSubmit(ctx context.Context, fields map[string]any) (Notice, Table) {
	if m.desc.ImportDriven {
		return Notice{Level: LevelError, Message: MsgImportOnly}, m.Render(ctx)
	}
	batch := m.shape(fields)
	if len(batch) == 0 {
		return Notice{Level: LevelError, Message: MsgNoSubmission}, m.Render(ctx)
	}
	saved := 0
	var lastID string
	for _, f := range batch {
		rec, err := m.store.Save(ctx, f)
		if err != nil {
			m.log.Warn("submit failed", zap.Error(err))
			continue
		}
		saved++
		lastID = rec.IDString()
	}
	if saved == 0 {
		return Notice{Level: LevelError, Message: MsgSaveFailed}, m.Render(ctx)
	}
	ev := core.ChangeEvent{Category: m.desc.Category, Action: core.ActionSave, Count: saved}
	if saved == 1 {
		ev.RecordID = lastID
	}
	m.bus.Publish(ev)
	return Notice{Level: LevelSuccess, Message: fmt.Sprintf(MsgSaved, saved), Reset: true}, m.Render(ctx)
}

func (m *Module) shape(fields map[string]any) []map[string]any {
	if fields == nil {
		return nil
	}
	if m.desc.MultiPoint() {
		out := make(map[string]any, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		entries := core.Record(fields).SubEntries(m.desc.SubEntryField)
		points := make([]any, 0, len(entries))
		for _, e := range entries {
			e = e.Clone()
			if core.FirstLabel(e, m.desc.SubEntryResultFields) == "" {
				if label := m.desc.SubEntryLabel(e); label != "" {
					e[m.desc.SubEntryResultFields[0]] = label
				}
			}
			points = append(points, map[string]any(e))
		}
		if len(points) == 0 {
			return nil
		}
		out[m.desc.SubEntryField] = points
		return []map[string]any{out}
	}
	points := core.Record(fields).SubEntries(defaultPointsName)
	if len(points) == 0 {
		return []map[string]any{fields}
	}
	base := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != defaultPointsName {
			base[k] = v
		}
	}
	out := make([]map[string]any, 0, len(points))
	for _, p := range points {
		merged := make(map[string]any, len(base)+len(p))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range p {
			merged[k] = v
		}
		out = append(out, merged)
	}
	return out
}

// HandleClick processes a delegated click. Only the delete marker acts; without
// confirmation it returns a confirm notice and leaves the records untouched.
func (m *Module) HandleClick(ctx context.Context, ev ClickEvent) (Notice, Table) {
	if ev.Marker != DeleteMarker || strings.TrimSpace(ev.ID) == "" {
		return Notice{}, m.Render(ctx)
	}
	if !ev.Confirmed {
		return Notice{Level: LevelConfirm, Message: MsgConfirmDelete}, m.Render(ctx)
	}
	removed, err := m.store.Delete(ctx, ev.ID)
	if err != nil {
		m.log.Warn("delete failed", zap.String("id", ev.ID), zap.Error(err))
		return Notice{Level: LevelError, Message: MsgDeleteFailed}, m.Render(ctx)
	}
	if removed == 0 {
		return Notice{Level: LevelInfo, Message: MsgNotFound}, m.Render(ctx)
	}
	m.bus.Publish(core.ChangeEvent{Category: m.desc.Category, Action: core.ActionDelete, RecordID: ev.ID})
	return Notice{Level: LevelSuccess, Message: MsgDeleted}, m.Render(ctx)
}

// Render lays out every stored record, newest first.
func (m *Module) Render(ctx context.Context) Table {
	return m.layout(m.store.All(ctx), nil)
}

// Sort orders for paged rendering.
const (
	SortDesc = "desc"
	SortAsc  = "asc"
)

// PageRequest selects one page of records ordered by test date.
type PageRequest struct {
	Page    int    `json:"page"`
	PerPage int    `json:"perPage"`
	Order   string `json:"order"`
}

// Page describes the rendered window.
type Page struct {
	Number  int    `json:"number"`
	PerPage int    `json:"perPage"`
	Pages   int    `json:"pages"`
	Total   int    `json:"total"`
	Order   string `json:"order"`
	From    int    `json:"from"`
	To      int    `json:"to"`
}

// DefaultPerPage is the page size used when a request names none.
const DefaultPerPage = 10

// RenderPage sorts records by test date and lays out one page. The page number is
// clamped into range.
func (m *Module) RenderPage(ctx context.Context, req PageRequest) Table {
	records := m.store.All(ctx)
	if req.PerPage <= 0 {
		req.PerPage = DefaultPerPage
	}
	if req.Order != SortAsc {
		req.Order = SortDesc
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].Date(), records[j].Date()
		if req.Order == SortAsc {
			return a < b
		}
		return a > b
	})
	total := len(records)
	pages := max(1, (total+req.PerPage-1)/req.PerPage)
	req.Page = min(max(req.Page, 1), pages)
	from := (req.Page - 1) * req.PerPage
	to := min(from+req.PerPage, total)
	page := &Page{Number: req.Page, PerPage: req.PerPage, Pages: pages, Total: total, Order: req.Order, From: from, To: to}
	return m.layout(records[from:to], page)
}
