package gpu

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rileyhilliard/gpueye/internal/errors"
)

// fieldCount is the number of columns QueryCommand produces per device.
const fieldCount = 9

// ErrUnreadableOutput is returned when the raw output isn't valid text.
var ErrUnreadableOutput = errors.New(errors.ErrOutput,
	"Unreadable output: nvidia-smi returned bytes that aren't valid UTF-8",
	"Check the remote locale and that nvidia-smi isn't wrapped by another tool.")

// Parse parses nvidia-smi CSV output produced by QueryCommand.
//
// Blank lines, rows with fewer than nine fields, rows with a non-numeric
// numeric field and rows outside the physical bounds are dropped. The only
// error is output that isn't valid UTF-8. The result is sorted by index;
// duplicate indices are kept as emitted.
func Parse(raw string) ([]Reading, error) {
	if !utf8.ValidString(raw) {
		return nil, ErrUnreadableOutput
	}

	readings := make([]Reading, 0, 8)
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, ok := parseRow(line)
		if !ok || !r.Valid() {
			continue
		}
		readings = append(readings, r)
	}

	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Index < readings[j].Index
	})
	return readings, nil
}

// parseRow binds one CSV row positionally. Any numeric field that fails to
// parse rejects the whole row.
func parseRow(line string) (Reading, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < fieldCount {
		return Reading{}, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	var r Reading
	var err error
	ints := []struct {
		dst *int
		src string
	}{
		{&r.Index, fields[0]},
		{&r.Temperature, fields[2]},
		{&r.MemoryUsed, fields[5]},
		{&r.MemoryTotal, fields[6]},
		{&r.GPUUtilization, fields[7]},
		{&r.MemoryUtilization, fields[8]},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(f.src); err != nil {
			return Reading{}, false
		}
	}
	if r.PowerDraw, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return Reading{}, false
	}
	if r.PowerLimit, err = strconv.ParseFloat(fields[4], 64); err != nil {
		return Reading{}, false
	}
	r.Name = fields[1]

	return r, true
}
