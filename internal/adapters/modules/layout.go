package modules

import (
	"foodlab/internal/core"
)

const (
	headerResult = "检测结果"
	headerAction = "操作"
	actionLabel  = "删除"
)

var riskBadges = map[string]string{
	core.RiskHigh:    "badge-risk-high",
	core.RiskMedium:  "badge-risk-medium",
	core.RiskLow:     "badge-risk-low",
	core.RiskVeryLow: "badge-risk-very-low",
	core.RiskNone:    "badge-risk-none",
}

func (m *Module) headers() []string {
	var out []string
	if m.desc.MultiPoint() {
		// date, canteen, sub-entry columns, result, inspector, action
		out = append(out, m.desc.Columns[0].Header, m.desc.Columns[1].Header)
		for _, c := range m.desc.SubEntryColumns {
			out = append(out, c.Header)
		}
		out = append(out, headerResult)
		for _, c := range m.desc.Columns[2:] {
			out = append(out, c.Header)
		}
		return append(out, headerAction)
	}
	for _, c := range m.desc.Columns {
		out = append(out, c.Header)
	}
	return append(out, headerResult, headerAction)
}

func (m *Module) layout(records []core.Record, page *Page) Table {
	t := Table{SurfaceID: m.cfg.DisplaySurfaceID, Headers: m.headers(), Page: page}
	if len(records) == 0 {
		t.Rows = []Row{{Cells: []Cell{{Text: MsgNoData, ColSpan: len(t.Headers), Class: "placeholder"}}}}
		return t
	}
	for _, r := range records {
		if m.desc.MultiPoint() {
			t.Rows = append(t.Rows, m.groupRows(r)...)
			continue
		}
		t.Rows = append(t.Rows, m.recordRow(r))
	}
	if t.Rows == nil {
		t.Rows = []Row{}
	}
	return t
}

func (m *Module) recordRow(r core.Record) Row {
	cells := make([]Cell, 0, len(m.desc.Columns)+2)
	for _, c := range m.desc.Columns {
		cells = append(cells, Cell{Text: dash(r.Text(c.Field))})
	}
	label := m.desc.RecordLabel(r)
	cells = append(cells, Cell{Text: dash(label), Class: m.badge(label)})
	cells = append(cells, deleteCell(r.IDString(), 0))
	return Row{Cells: cells}
}

// groupRows renders one row per sub-entry; the record-level cells appear on the
// first row only and span the group.
func (m *Module) groupRows(r core.Record) []Row {
	entries := r.SubEntries(m.desc.SubEntryField)
	if len(entries) == 0 {
		return nil
	}
	span := len(entries)
	rows := make([]Row, 0, span)
	for i, e := range entries {
		var cells []Cell
		if i == 0 {
			cells = append(cells,
				Cell{Text: dash(r.Text(m.desc.Columns[0].Field)), RowSpan: span},
				Cell{Text: dash(r.Text(m.desc.Columns[1].Field)), RowSpan: span},
			)
		}
		for _, c := range m.desc.SubEntryColumns {
			cells = append(cells, Cell{Text: dash(e.Text(c.Field))})
		}
		label := m.desc.SubEntryLabel(e)
		cells = append(cells, Cell{Text: dash(label), Class: m.badge(label)})
		if i == 0 {
			for _, c := range m.desc.Columns[2:] {
				cells = append(cells, Cell{Text: dash(r.Text(c.Field)), RowSpan: span})
			}
			cells = append(cells, deleteCell(r.IDString(), span))
		}
		rows = append(rows, Row{Cells: cells})
	}
	return rows
}

func (m *Module) badge(label string) string {
	if m.desc.ImportDriven {
		if c, ok := riskBadges[label]; ok {
			return c
		}
		return ""
	}
	if core.IsPass(label) {
		return badgePass
	}
	return badgeFail
}

func deleteCell(id string, span int) Cell {
	return Cell{Text: actionLabel, RowSpan: span, Action: DeleteMarker, ActionID: id}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
