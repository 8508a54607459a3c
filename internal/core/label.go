package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Result labels produced by the RLU classifier.
const (
	LabelRLUPass    = "合格 (<200)"
	LabelRLUWarning = "警戒 (200-500)"
	LabelRLUFail    = "不合格 (>500)"

	passPrefix = "合格"
)

// Pathogen risk levels ordered from most to least severe.
const (
	RiskHigh     = "高风险"
	RiskMedium   = "中风险"
	RiskLow      = "低风险"
	RiskVeryLow  = "极低风险"
	RiskNone     = "无风险"
	RiskNoneText = "所有检测项均为阴性"
	// NoPositiveItems is the positiveItems value of a fully negative sample.
	NoPositiveItems = "无"
)

// IsPass reports whether a pass/fail label denotes a pass. Labels beginning with
// 合格 pass; 不合格 and 警戒 do not.
func IsPass(label string) bool {
	label = strings.TrimSpace(label)
	if strings.HasPrefix(label, passPrefix) {
		return true
	}
	return strings.EqualFold(label, "pass") || strings.EqualFold(label, "passed")
}

// FirstLabel returns the first present, non-empty field value among fields.
func FirstLabel(r Record, fields []string) string {
	for _, f := range fields {
		if v := strings.TrimSpace(r.Text(f)); v != "" {
			return v
		}
	}
	return ""
}

// RecordLabel returns the pass/fail label of a whole record.
func (d Descriptor) RecordLabel(r Record) string {
	return FirstLabel(r, d.ResultFields)
}

// SubEntryLabel returns the label of one sub-entry, deriving it from the RLU
// reading when no explicit result was recorded.
func (d Descriptor) SubEntryLabel(entry Record) string {
	if label := FirstLabel(entry, d.SubEntryResultFields); label != "" {
		return label
	}
	if rlu, ok := entry.Number("rlu"); ok {
		return ClassifyRLU(rlu)
	}
	return ""
}

// ClassifyRLU maps an ATP bioluminescence reading to its result label.
func ClassifyRLU(rlu float64) string {
	switch {
	case rlu < 200:
		return LabelRLUPass
	case rlu <= 500:
		return LabelRLUWarning
	default:
		return LabelRLUFail
	}
}

// PositiveDetail is one positive pathogen hit with its cycle threshold.
type PositiveDetail struct {
	Pathogen string
	Ct       float64
	CtRaw    string
}

// RiskAssessment is the derived risk summary of a pathogen sample.
type RiskAssessment struct {
	Level         string
	Reason        string
	PositiveItems string
}

// AssessRisk derives the risk level from the lowest Ct value among positive hits.
func AssessRisk(positives []PositiveDetail) RiskAssessment {
	if len(positives) == 0 {
		return RiskAssessment{Level: RiskNone, Reason: RiskNoneText, PositiveItems: NoPositiveItems}
	}
	critical := positives[0]
	for _, p := range positives[1:] {
		if p.Ct < critical.Ct {
			critical = p
		}
	}
	level := RiskVeryLow
	switch {
	case critical.Ct < 20:
		level = RiskHigh
	case critical.Ct < 30:
		level = RiskMedium
	case critical.Ct < 35:
		level = RiskLow
	}
	items := make([]string, 0, len(positives))
	for _, p := range positives {
		items = append(items, fmt.Sprintf("%s(Ct:%s)", p.Pathogen, p.CtRaw))
	}
	return RiskAssessment{
		Level:         level,
		Reason:        fmt.Sprintf("最高风险项：%s，Ct值=%s", critical.Pathogen, critical.CtRaw),
		PositiveItems: strings.Join(items, ", "),
	}
}

// PositiveDetails extracts the positive hits stored under positiveDetails.
// Entries without a parseable Ct value are skipped.
func PositiveDetails(r Record) []PositiveDetail {
	var out []PositiveDetail
	for _, entry := range r.SubEntries("positiveDetails") {
		name := entry.Text("pathogen")
		raw := entry.Text("ctRaw")
		ct, ok := entry.Number("ct")
		if !ok {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				continue
			}
			ct = parsed
		}
		if raw == "" {
			raw = strconv.FormatFloat(ct, 'f', -1, 64)
		}
		if name == "" || math.IsNaN(ct) {
			continue
		}
		out = append(out, PositiveDetail{Pathogen: name, Ct: ct, CtRaw: raw})
	}
	return out
}

// HasPositive reports whether a pathogen record lists any positive item.
func HasPositive(r Record) bool {
	items := strings.TrimSpace(r.Text("positiveItems"))
	return items != "" && items != NoPositiveItems
}
