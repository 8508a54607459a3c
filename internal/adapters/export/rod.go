package export

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodRasterizer captures the region with a headless Chrome driven by rod.
type RodRasterizer struct {
	// Bin is the browser binary; empty lets the launcher locate or download one.
	Bin string
	// ControlURL connects to an already running browser instead of launching.
	ControlURL string
	Timeout    time.Duration
	Width      int
	Height     int

	mu       sync.Mutex
	browser  *rod.Browser
	launched *launcher.Launcher
}

// LoadRod launches the browser. It is meant to be used as an exporter Loader.
func LoadRod(r *RodRasterizer) Loader {
	return func(ctx context.Context) (Capabilities, error) {
		if _, err := r.connect(ctx); err != nil {
			return Capabilities{}, err
		}
		return Capabilities{Rasterizer: r, Assembler: PDFAssembler{}}, nil
	}
}

func (r *RodRasterizer) connect(ctx context.Context) (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}
	controlURL := r.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if r.Bin != "" {
			l = l.Bin(r.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		r.launched = l
		controlURL = u
	}
	browser := rod.New().ControlURL(controlURL).Context(context.WithoutCancel(ctx))
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	r.browser = browser
	return browser, nil
}

// Rasterize opens the region URL, forces a white background and screenshots the
// selected element at the region scale.
func (r *RodRasterizer) Rasterize(ctx context.Context, region Region) (image.Image, error) {
	region = region.withDefaults()
	if region.URL == "" {
		return nil, fmt.Errorf("region url required")
	}
	browser, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()
	page = page.Context(ctx).Timeout(timeout)

	width, height := r.Width, r.Height
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 900
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: region.Scale,
		Mobile:            false,
	}).Call(page); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	cr, cg, cb, _ := region.Background.RGBA()
	if err := (proto.EmulationSetDefaultBackgroundColorOverride{
		Color: &proto.DOMRGBA{R: int(cr >> 8), G: int(cg >> 8), B: int(cb >> 8)},
	}).Call(page); err != nil {
		return nil, fmt.Errorf("set background: %w", err)
	}
	if err := page.Navigate(region.URL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", region.URL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	el, err := page.Element(region.Selector)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", region.Selector, err)
	}
	shot, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// Close shuts the browser down.
func (r *RodRasterizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.launched != nil {
		r.launched.Cleanup()
		r.launched = nil
	}
	return err
}
