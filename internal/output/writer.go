package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"beamspot-go/internal/types"
)

// SeriesName is the file name of a report's statistics table.
func SeriesName(rep types.Report) string {
	return fmt.Sprintf("%s_%s_stats.txt", rep.StartedAt.Format("20060102_150405"), rep.ID)
}

// WriteSeries writes one line per shot of rep into outputDir and returns the
// file path. Absent measurements are written as "nan".
func WriteSeries(outputDir string, rep types.Report) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}

	filename := filepath.Join(outputDir, SeriesName(rep))
	f, err := os.Create(filename)
	if err != nil {
		return "", err
	}

	_, _ = fmt.Fprintln(f, "shot, x_um, y_um, ev, error")
	for shot := 0; shot < rep.Shots; shot++ {
		x, y, ev := rep.Shot(shot)
		_, _ = fmt.Fprintf(
			f,
			"%d, %s, %s, %s, %s\n",
			shot,
			formatMeasurement(x, 4),
			formatMeasurement(y, 4),
			formatMeasurement(ev, 0),
			strconv.Quote(rep.Failures[shot]),
		)
	}
	return filename, f.Close()
}

func formatMeasurement(m types.Measurement, prec int) string {
	if !m.Valid {
		return "nan"
	}
	return strconv.FormatFloat(m.Value, 'f', prec, 64)
}

// SeriesWriter writes every consumed report with WriteSeries.
type SeriesWriter struct {
	Dir string
}

func (s SeriesWriter) Consume(_ context.Context, rep types.Report) error {
	_, err := WriteSeries(s.Dir, rep)
	return err
}
