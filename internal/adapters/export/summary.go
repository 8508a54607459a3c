package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"foodlab/internal/core"
)

const (
	summaryWidth = 420
	rowHeight    = 22
	barLeft      = 230
	barMax       = 170
)

var (
	barColor   = color.RGBA{0, 102, 204, 255}
	alertColor = color.RGBA{204, 32, 32, 255}
	inkColor   = color.RGBA{32, 32, 32, 255}
)

// SummaryRasterizer draws the aggregation summary without a browser. The
// region's URL and selector are ignored.
//
// Face draws the text. Without one the ASCII-only basic face is used, so
// titles, alerts and canteen names fall back to Latin forms.
type SummaryRasterizer struct {
	Source func(ctx context.Context) core.Summary
	Face   font.Face
	// Title heads the report when Face is set. Defaults to DefaultTitle.
	Title string
}

type summaryLine struct {
	text   string
	color  color.Color
	indent int
	bar    int // pass rate drawn as a bar, or -1
}

// Rasterize renders one line per category with a pass-rate bar, then the
// alerts and the per-canteen pass rates.
func (s SummaryRasterizer) Rasterize(ctx context.Context, region Region) (image.Image, error) {
	if s.Source == nil {
		return nil, fmt.Errorf("summary source not configured")
	}
	region = region.withDefaults()
	face := s.Face
	if face == nil {
		face = basicfont.Face7x13
	}
	lines := summaryLines(s.Source(ctx), s.Title, s.Face != nil)
	base := image.NewRGBA(image.Rect(0, 0, summaryWidth, len(lines)*rowHeight+10))
	xdraw.Draw(base, base.Bounds(), &image.Uniform{C: region.Background}, image.Point{}, xdraw.Src)

	y := rowHeight
	for _, l := range lines {
		if l.bar >= 0 {
			bar := image.Rect(barLeft, y-11, barLeft+barMax*l.bar/100, y-1)
			xdraw.Draw(base, bar, &image.Uniform{C: barColor}, image.Point{}, xdraw.Src)
		}
		text(base, face, 10+l.indent, y, l.color, l.text)
		y += rowHeight
	}

	scaled := image.NewRGBA(image.Rect(0, 0, int(float64(base.Bounds().Dx())*region.Scale), int(float64(base.Bounds().Dy())*region.Scale)))
	xdraw.NearestNeighbor.Scale(scaled, scaled.Bounds(), base, base.Bounds(), xdraw.Src, nil)
	return scaled, nil
}

// summaryLines lays out the report text. unicode selects the stored titles and
// alert messages; otherwise descriptor labels are used.
func summaryLines(sum core.Summary, title string, unicode bool) []summaryLine {
	ink := func(s string) summaryLine { return summaryLine{text: s, color: inkColor, bar: -1} }
	alert := func(s string) summaryLine { return summaryLine{text: s, color: alertColor, indent: 10, bar: -1} }

	var out []summaryLine
	if unicode {
		if title == "" {
			title = DefaultTitle
		}
		out = append(out, ink(title), ink(fmt.Sprintf("%s  总检测数 %d", sum.Window, sum.Total)))
	} else {
		out = append(out, ink("Food safety daily report"), ink(fmt.Sprintf("Window %s  Total %d", windowLabel(sum.Filter), sum.Total)))
	}

	var alerts []summaryLine
	for _, st := range sum.Stats {
		desc, err := core.Describe(st.Category)
		label := string(st.Category)
		if err == nil {
			label = desc.Label
			if unicode {
				label = desc.Title
			}
		}
		line := ink(fmt.Sprintf("%-22s n=%d", label, st.Count))
		if st.HasPassRate {
			line.text += fmt.Sprintf(" %3d%%", st.PassRate)
			line.bar = st.PassRate
		} else {
			line.text += fmt.Sprintf(" pos=%d", st.Positive)
		}
		out = append(out, line)

		if err != nil || desc.Alert(st) == "" || unicode {
			continue
		}
		if desc.ImportDriven {
			alerts = append(alerts, alert(fmt.Sprintf("%s: %d positive", desc.Label, st.Positive)))
		} else {
			alerts = append(alerts, alert(fmt.Sprintf("%s pass rate low (%d%%)", desc.Label, st.PassRate)))
		}
	}
	if unicode {
		for _, a := range sum.Alerts {
			alerts = append(alerts, alert(a))
		}
	}
	if len(alerts) > 0 {
		head := fmt.Sprintf("Alerts: %d", len(alerts))
		if unicode {
			head = fmt.Sprintf("预警: %d", len(alerts))
		}
		out = append(out, summaryLine{text: head, color: alertColor, bar: -1})
		out = append(out, alerts...)
	}

	if len(sum.Canteens) > 0 {
		head := "Canteens"
		if unicode {
			head = "各食堂合格率"
		}
		out = append(out, ink(head))
		for i, cr := range sum.Canteens {
			name := cr.Canteen
			if !unicode && !isASCII(name) {
				name = fmt.Sprintf("Canteen %d", i+1)
			}
			out = append(out, summaryLine{
				text:   fmt.Sprintf("%-20s %d/%d %3d%%", name, cr.Passed, cr.Total, cr.PassRate),
				color:  inkColor,
				indent: 10,
				bar:    cr.PassRate,
			})
		}
	}
	return out
}

// LoadFace reads a TrueType or OpenType font (or the first font of a
// collection) for SummaryRasterizer.Face.
func LoadFace(path string, size float64) (font.Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font %s: %w", path, err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		coll, cerr := opentype.ParseCollection(data)
		if cerr != nil {
			return nil, fmt.Errorf("parse font %s: %w", path, errors.Join(err, cerr))
		}
		if f, err = coll.Font(0); err != nil {
			return nil, fmt.Errorf("font collection %s: %w", path, err)
		}
	}
	if size <= 0 {
		size = 13
	}
	return opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
}

func text(dst *image.RGBA, face font.Face, x, y int, c color.Color, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func windowLabel(f core.DateFilter) string {
	switch f.Kind {
	case core.FilterDay:
		return f.Start
	case core.FilterMonth:
		return f.Start[:min(7, len(f.Start))]
	case core.FilterRange:
		return f.Start + ".." + f.End
	default:
		return "all"
	}
}
