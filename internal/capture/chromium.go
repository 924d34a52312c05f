// Package capture renders the /calendar page to a PNG with headless Chromium.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "plancal/internal/log"
)

const (
	DefaultWidth   = 1280
	DefaultHeight  = 960
	DefaultTimeout = 30 * time.Second

	// ReadySelector matches the calendar root once the grid is rendered.
	ReadySelector = `[data-ready="true"]`
)

// Options defines one screenshot.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/calendar?year=2024&month=3".
	URL string

	// OutputPath is where the PNG is written. Parent directories are created.
	OutputPath string

	// Width and Height are the viewport size in pixels. Zero means
	// DefaultWidth / DefaultHeight.
	Width  int
	Height int

	// Timeout bounds the whole capture. Zero means DefaultTimeout.
	Timeout time.Duration

	// ExecPath overrides the Chromium binary chromedp looks up.
	ExecPath string
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// CalendarPNG navigates a headless Chromium to opts.URL, waits for
// ReadySelector to become visible and writes a full-page screenshot.
func CalendarPNG(parent context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.WindowSize(opts.Width, opts.Height))
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	started := time.Now()
	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run: %w", err)
	}

	if err := writeFile(opts.OutputPath, png); err != nil {
		return fmt.Errorf("capture: write png: %w", err)
	}
	appLog.Info("calendar preview captured",
		"path", opts.OutputPath,
		"bytes", len(png),
		"elapsed", time.Since(started).String(),
	)
	return nil
}

// writeFile replaces path atomically so /preview.png never serves a
// half-written image.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".preview-*.png")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
