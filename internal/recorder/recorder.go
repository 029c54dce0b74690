// Package recorder saves camera frames as 16-bit FITS files with incrementing
// filenames in yyyy-mm-dd subfolders.
package recorder

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"beamspot-go/internal/types"
)

const (
	bzero  = 32768
	suffix = ".fits"
)

// Recorder writes frames below Root. Failed shots are saved when Enabled;
// every shot is saved when RecordAll is also set.
type Recorder struct {
	Root      string
	Prefix    string
	Enabled   bool
	RecordAll bool

	mu       sync.Mutex
	counter  int
	timeFldr string
	now      func() time.Time
	encode   func(io.Writer, types.Frame, ...fitsio.Card) error
}

func New(root, prefix string, enabled, recordAll bool) *Recorder {
	return &Recorder{Root: root, Prefix: prefix, Enabled: enabled, RecordAll: recordAll, now: time.Now, encode: WriteFits}
}

// ObserveShot saves frame when the recorder is enabled and the shot qualifies.
func (r *Recorder) ObserveShot(frame types.Frame, res types.ShotResult) {
	if !r.Enabled || (res.OK() && !r.RecordAll) {
		return
	}
	cards := []fitsio.Card{
		{Name: "SHOT", Value: res.Shot, Comment: "shot index within the acquisition"},
	}
	if res.Failure != "" {
		cards = append(cards, fitsio.Card{Name: "FAILURE", Value: truncate(res.Failure, 60)})
	}
	if _, err := r.WriteFrame(frame, cards...); err != nil {
		log.Printf("recorder: shot %d: %v", res.Shot, err)
	}
}

// WriteFrame saves frame with the given header cards and returns the path.
func (r *Recorder) WriteFrame(frame types.Frame, cards ...fitsio.Card) (string, error) {
	if !frame.Valid() {
		return "", fmt.Errorf("recorder: frame %dx%d with %d samples", frame.Width, frame.Height, len(frame.Pix))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fldr, err := r.updateFolder()
	if err != nil {
		return "", err
	}
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d%s", r.Prefix, r.counter, suffix))
	fid, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	encode := WriteFits
	if r.encode != nil {
		encode = r.encode
	}
	if err := encode(fid, frame, cards...); err != nil {
		fid.Close()
		os.Remove(fn)
		return "", fmt.Errorf("recorder: %s: %w", fn, err)
	}
	if err := fid.Close(); err != nil {
		os.Remove(fn)
		return "", fmt.Errorf("recorder: %s: %w", fn, err)
	}
	r.counter++
	return fn, nil
}

// updateFolder moves to today's folder, creating it, and rescans the counter
// when the day changes.
func (r *Recorder) updateFolder() (string, error) {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	fldr := now().Format("2006-01-02")
	path := filepath.Join(r.Root, fldr)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	if fldr != r.timeFldr {
		r.timeFldr = fldr
		n, err := r.scan(path)
		if err != nil {
			return "", err
		}
		r.counter = n
	}
	return path, nil
}

// scan returns one past the highest counter already present in path.
func (r *Recorder) scan(path string) (int, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, err
	}
	next := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, r.Prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, r.Prefix), suffix))
		if err != nil {
			continue
		}
		next = max(next, n+1)
	}
	return next, nil
}

// WriteFits streams frame as a signed 16-bit image offset by BZERO. The
// frame timestamp is stored in the TSTAMP card.
func WriteFits(w io.Writer, frame types.Frame, cards ...fitsio.Card) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	im := fitsio.NewImage(16, []int{frame.Width, frame.Height})
	defer im.Close()
	cards = append(cards,
		fitsio.Card{Name: "TSTAMP", Value: frame.Timestamp, Comment: "camera timestamp"},
		fitsio.Card{Name: "BZERO", Value: bzero},
		fitsio.Card{Name: "BSCALE", Value: 1.0},
	)
	if err := im.Header().Append(cards...); err != nil {
		return err
	}

	buf := make([]int16, len(frame.Pix))
	for i, v := range frame.Pix {
		buf[i] = int16(v - bzero)
	}
	if err := im.Write(buf); err != nil {
		return err
	}
	return fits.Write(im)
}

// ReadFrame loads the primary image of a FITS file written by WriteFits.
func ReadFrame(path string) (types.Frame, error) {
	fid, err := os.Open(path)
	if err != nil {
		return types.Frame{}, err
	}
	defer fid.Close()
	return ReadFits(fid)
}

// ReadFits decodes a two-dimensional 8- or 16-bit primary image.
func ReadFits(r io.Reader) (types.Frame, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return types.Frame{}, err
	}
	defer f.Close()

	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return types.Frame{}, fmt.Errorf("recorder: primary HDU is not an image")
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return types.Frame{}, fmt.Errorf("recorder: expected 2 axes, got %d", len(axes))
	}
	frame := types.Frame{Width: axes[0], Height: axes[1], Pix: make([]uint16, axes[0]*axes[1])}
	if c := hdr.Get("TSTAMP"); c != nil {
		frame.Timestamp, _ = cardFloat(c.Value)
	}

	switch hdr.Bitpix() {
	case 8:
		buf := make([]uint8, len(frame.Pix))
		if err := img.Read(&buf); err != nil {
			return types.Frame{}, err
		}
		for i, v := range buf {
			frame.Pix[i] = uint16(v)
		}
	case 16:
		buf := make([]int16, len(frame.Pix))
		if err := img.Read(&buf); err != nil {
			return types.Frame{}, err
		}
		var offset float64
		if c := hdr.Get("BZERO"); c != nil {
			offset, _ = cardFloat(c.Value)
		}
		for i, v := range buf {
			frame.Pix[i] = uint16(int32(v) + int32(offset))
		}
	default:
		return types.Frame{}, fmt.Errorf("recorder: unsupported BITPIX %d", hdr.Bitpix())
	}
	return frame, nil
}

func cardFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
