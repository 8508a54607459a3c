package modules

import (
	"net/url"
	"sort"
	"strings"

	"foodlab/internal/core"
)

// FieldsFromForm flattens a submitted form. Repeated "name[]" inputs are zipped
// into per-point mappings stored under the category's sub-entry field, or under
// "points" for single-point categories. Points whose values are all blank are dropped.
func FieldsFromForm(desc core.Descriptor, form url.Values) map[string]any {
	fields := make(map[string]any, len(form))
	lists := map[string][]string{}
	for key, values := range form {
		if name, ok := strings.CutSuffix(key, "[]"); ok {
			lists[name] = values
			continue
		}
		if len(values) > 0 {
			fields[key] = strings.TrimSpace(values[0])
		}
	}
	if len(lists) == 0 {
		return fields
	}
	names := make([]string, 0, len(lists))
	n := 0
	for name, values := range lists {
		names = append(names, name)
		n = max(n, len(values))
	}
	sort.Strings(names)
	points := make([]any, 0, n)
	for i := 0; i < n; i++ {
		point := map[string]any{}
		blank := true
		for _, name := range names {
			v := ""
			if i < len(lists[name]) {
				v = strings.TrimSpace(lists[name][i])
			}
			if v != "" {
				blank = false
			}
			point[name] = v
		}
		if !blank {
			points = append(points, point)
		}
	}
	target := defaultPointsName
	if desc.MultiPoint() {
		target = desc.SubEntryField
	}
	fields[target] = points
	return fields
}
