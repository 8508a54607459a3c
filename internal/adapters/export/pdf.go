package export

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/go-pdf/fpdf"
)

// A4 portrait page size in millimetres.
const (
	PageWidth  = 210.0
	PageHeight = 297.0
)

// Assembler turns a raster into a paginated document.
type Assembler interface {
	Assemble(img image.Image) (data []byte, pages int, err error)
}

// Paginate returns the vertical offset of the image on each page. The full image is
// redrawn on every page shifted up by one page height until its height is used up.
func Paginate(imageHeight float64) []float64 {
	offsets := []float64{0}
	remaining := imageHeight - PageHeight
	for k := 1; remaining > 0; k++ {
		offsets = append(offsets, -float64(k)*PageHeight)
		remaining -= PageHeight
	}
	return offsets
}

// ScaledHeight is the height in millimetres of an image scaled to the page width.
func ScaledHeight(bounds image.Rectangle) float64 {
	if bounds.Dx() == 0 {
		return 0
	}
	return float64(bounds.Dy()) * PageWidth / float64(bounds.Dx())
}

// PDFAssembler lays a PNG-encoded raster onto A4 pages.
type PDFAssembler struct{}

// Assemble encodes img as PNG on an opaque white background and paginates it.
func (PDFAssembler) Assemble(img image.Image) ([]byte, int, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, 0, fmt.Errorf("empty raster")
	}
	encoded, err := EncodePNG(img)
	if err != nil {
		return nil, 0, err
	}
	height := ScaledHeight(img.Bounds())
	offsets := Paginate(height)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader("capture", opts, bytes.NewReader(encoded))
	for _, y := range offsets {
		pdf.AddPage()
		pdf.ImageOptions("capture", 0, y, PageWidth, height, false, opts, 0, "")
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, 0, fmt.Errorf("assemble pdf: %w", err)
	}
	return buf.Bytes(), len(offsets), nil
}

// EncodePNG flattens img onto white and encodes it.
func EncodePNG(img image.Image) ([]byte, error) {
	flat := image.NewRGBA(img.Bounds())
	draw.Draw(flat, flat.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)
	var buf bytes.Buffer
	if err := png.Encode(&buf, flat); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
