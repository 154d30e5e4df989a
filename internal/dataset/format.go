// Package dataset reads, formats, summarizes, and plots session datasets.
package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/verte-zerg/heartica/internal/model"
)

// Header is the fixed first row of every dataset.
const Header = "nMillisecondsElapsed,nBlue,nGreen,nRed,nAlpha,nIr"

// Columns lists the channel columns in file order, after the elapsed column.
var Columns = []string{"nBlue", "nGreen", "nRed", "nAlpha", "nIr"}

const columnCount = 6

// AppendRow appends the CSV encoding of s, newline included, to dst.
// Values use strconv so the output never depends on the process locale.
func AppendRow(dst []byte, s model.Sample) []byte {
	dst = strconv.AppendInt(dst, s.ElapsedMs, 10)
	for _, v := range channelValues(s) {
		dst = append(dst, ',')
		dst = strconv.AppendFloat(dst, v, 'f', -1, 64)
	}
	return append(dst, '\n')
}

// FormatRow returns the CSV encoding of s without the trailing newline.
func FormatRow(s model.Sample) string {
	row := AppendRow(nil, s)
	return string(row[:len(row)-1])
}

// ParseRow decodes one data row.
func ParseRow(line string) (model.Sample, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(fields) != columnCount {
		return model.Sample{}, fmt.Errorf("expected %d columns, got %d", columnCount, len(fields))
	}
	elapsed, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return model.Sample{}, fmt.Errorf("invalid elapsed value %q: %w", fields[0], err)
	}
	var vals [columnCount - 1]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
		if err != nil {
			return model.Sample{}, fmt.Errorf("invalid %s value %q: %w", Columns[i], fields[i+1], err)
		}
		vals[i] = v
	}
	return model.Sample{
		ElapsedMs: elapsed,
		Blue:      vals[0],
		Green:     vals[1],
		Red:       vals[2],
		Alpha:     vals[3],
		IR:        vals[4],
	}, nil
}

func channelValues(s model.Sample) [columnCount - 1]float64 {
	return [columnCount - 1]float64{s.Blue, s.Green, s.Red, s.Alpha, s.IR}
}
