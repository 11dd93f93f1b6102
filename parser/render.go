package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// Renderer rasterizes a single PDF page into a PNG.
type Renderer interface {
	RenderPage(ctx context.Context, data []byte, page int, scale float64) ([]byte, error)
}

// ErrRendererUnavailable is returned when the rendering binary is missing.
var ErrRendererUnavailable = errors.New("parser: page renderer unavailable")

// PopplerRenderer renders pages with poppler's pdftoppm. Scale 1.0 is 72 DPI.
type PopplerRenderer struct {
	Binary string // defaults to "pdftoppm"
}

func (r PopplerRenderer) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return "pdftoppm"
}

// Available reports whether the binary can be found on PATH.
func (r PopplerRenderer) Available() bool {
	_, err := exec.LookPath(r.binary())
	return err == nil
}

func (r PopplerRenderer) RenderPage(ctx context.Context, data []byte, page int, scale float64) ([]byte, error) {
	if !r.Available() {
		return nil, ErrRendererUnavailable
	}
	if scale <= 0 {
		scale = 1
	}
	dpi := int(72 * scale)
	n := strconv.Itoa(page)

	cmd := exec.CommandContext(ctx, r.binary(),
		"-png", "-r", strconv.Itoa(dpi),
		"-f", n, "-l", n, "-singlefile", "-")
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %v, stderr: %s", page, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("pdftoppm page %d: empty output", page)
	}
	return stdout.Bytes(), nil
}
