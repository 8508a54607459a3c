package core

import (
	"fmt"
	"strings"
)

// Column names one rendered table column sourced from a record field.
type Column struct {
	Field  string `json:"field"`
	Header string `json:"header"`
}

// Descriptor holds everything category-specific the modules, the aggregation service
// and the exporter need. It is resolved once per category.
type Descriptor struct {
	Category Category
	Title    string
	Label    string

	// SubEntryField names the nested sub-entry list for multi-point categories.
	SubEntryField string
	// ResultFields lists the pass/fail label fields in precedence order.
	ResultFields []string
	// SubEntryResultFields lists the label fields of a sub-entry in precedence order.
	SubEntryResultFields []string

	Columns         []Column
	SubEntryColumns []Column

	// ImportDriven categories have no submission surface and no pass rate.
	ImportDriven bool

	// AlertBelow is the pass-rate threshold under which an alert fires (count > 0).
	AlertBelow   int
	AlertMessage string
	// AlertShowsRate appends the current pass rate to the alert text.
	AlertShowsRate bool

	// Overview renders the one-line dashboard summary of a record.
	Overview func(Record) string
}

// MultiPoint reports whether the category aggregates over nested sub-entries.
func (d Descriptor) MultiPoint() bool { return d.SubEntryField != "" }

// SlotKey returns the persistent slot key of the descriptor's category.
func (d Descriptor) SlotKey() string { return SlotKey(d.Category) }

var defaultResultFields = []string{"result", "colorLevel"}

var descriptors = map[Category]Descriptor{
	CategoryTableware: {
		Category:             CategoryTableware,
		Title:                "餐具ATP检测",
		Label:                "Tableware ATP",
		SubEntryField:        "atpPoints",
		ResultFields:         defaultResultFields,
		SubEntryResultFields: []string{"result", "res"},
		Columns: []Column{
			{Field: FieldTestDate, Header: "检测日期"},
			{Field: FieldCanteen, Header: "食堂"},
			{Field: FieldInspector, Header: "检测员"},
		},
		SubEntryColumns: []Column{
			{Field: "loc", Header: "采样点"},
			{Field: "rlu", Header: "RLU值"},
		},
		AlertBelow:     90,
		AlertMessage:   "餐具洁净度合格率偏低",
		AlertShowsRate: true,
		Overview: func(r Record) string {
			return fmt.Sprintf("%s %s 检测%d点位", r.Text(FieldTestDate), r.Text(FieldCanteen), len(r.SubEntries("atpPoints")))
		},
	},
	CategoryPesticide: {
		Category:     CategoryPesticide,
		Title:        "农药残留检测",
		Label:        "Pesticide residue",
		ResultFields: defaultResultFields,
		Columns: []Column{
			{Field: FieldTestDate, Header: "检测日期"},
			{Field: FieldCanteen, Header: "食堂"},
			{Field: "vegetableType", Header: "蔬菜品种"},
			{Field: "batchNo", Header: "批次"},
		},
		AlertBelow:   100,
		AlertMessage: "存在农药残留超标蔬果",
		Overview:     overviewOf("vegetableType", "result"),
	},
	CategoryOil: {
		Category:     CategoryOil,
		Title:        "食用油极性组分检测",
		Label:        "Frying oil",
		ResultFields: defaultResultFields,
		Columns: []Column{
			{Field: FieldTestDate, Header: "检测日期"},
			{Field: FieldCanteen, Header: "食堂"},
			{Field: "oilTemp", Header: "油温"},
			{Field: "tpmValue", Header: "极性组分(%)"},
		},
		AlertBelow:   95,
		AlertMessage: "食用油品质不合格率较高",
		Overview: func(r Record) string {
			return fmt.Sprintf("%s %s TPM:%s%%", r.Text(FieldTestDate), r.Text(FieldCanteen), r.Text("tpmValue"))
		},
	},
	CategoryLeanMeat: {
		Category:     CategoryLeanMeat,
		Title:        "兽药残留检测",
		Label:        "Livestock drug residue",
		ResultFields: defaultResultFields,
		Columns: []Column{
			{Field: FieldTestDate, Header: "检测日期"},
			{Field: FieldCanteen, Header: "食堂"},
			{Field: "meatType", Header: "肉类品种"},
			{Field: "batchNo", Header: "批次"},
		},
		AlertBelow:   100,
		AlertMessage: "警告：检出瘦肉精阳性样本",
		Overview:     overviewOf("meatType", "result"),
	},
	CategoryPathogen: {
		Category:     CategoryPathogen,
		Title:        "食源性病原体检测",
		Label:        "Pathogen screening",
		ResultFields: []string{"riskLevel"},
		Columns: []Column{
			{Field: FieldTestDate, Header: "检测日期"},
			{Field: "sampleId", Header: "样品编号"},
			{Field: "sampleType", Header: "样品类型"},
			{Field: "positiveItems", Header: "阳性项目"},
		},
		ImportDriven: true,
		AlertMessage: "警告：检出食源性病原体",
		Overview: func(r Record) string {
			items := r.Text("positiveItems")
			if items == "" {
				items = NoPositiveItems
			}
			return fmt.Sprintf("%s %s %s", r.Text(FieldTestDate), r.Text("sampleId"), items)
		},
	},
}

func overviewOf(fields ...string) func(Record) string {
	return func(r Record) string {
		parts := []string{r.Text(FieldTestDate)}
		for _, f := range fields {
			parts = append(parts, r.Text(f))
		}
		return strings.Join(parts, " ")
	}
}

var categoryOrder = []Category{
	CategoryTableware,
	CategoryPesticide,
	CategoryOil,
	CategoryLeanMeat,
	CategoryPathogen,
}

// Categories returns every known category in dashboard order.
func Categories() []Category {
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// Describe resolves the descriptor of a category.
func Describe(c Category) (Descriptor, error) {
	d, ok := descriptors[c]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
	}
	return d, nil
}

// ParseCategory validates a category name coming from a URL, a file or a flag.
func ParseCategory(name string) (Category, error) {
	c := Category(name)
	if _, ok := descriptors[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
	return c, nil
}
