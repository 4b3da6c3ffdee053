// Package ocr connects the verification core to the external text
// recognition service. Recognized lines carry no correctness guarantee;
// downstream scoring treats them as untrusted input.
package ocr

import (
	"context"
	"errors"
	"image"

	"github.com/yekkaplan/tcidverify-sub000/internal/vision"
)

// TagUnavailable marks frames whose region text could not be recognized
// because the external service failed.
const TagUnavailable = "ocr-unavailable"

// ErrUnavailable reports that no recognizer is configured or reachable.
var ErrUnavailable = errors.New("recognizer unavailable")

// Request carries one region crop to the recognizer. The whitelist is a
// per-region character hint, never an enforcement.
type Request struct {
	SessionID string
	Region    vision.RegionKind
	Whitelist string
	Image     *image.Gray
}

// Recognizer yields text lines for a region crop.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) ([]string, error)
}

// Static serves canned lines per region. It backs tests and the
// no-endpoint configuration where the engine runs on geometry and quality
// signals alone.
type Static struct {
	Lines map[vision.RegionKind][]string
	Err   error
}

func (s *Static) Recognize(_ context.Context, req Request) ([]string, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Lines[req.Region], nil
}
