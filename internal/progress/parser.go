// Package progress decodes the AWS CLI's free-text transfer output into
// structured samples and renders them for terminal display.
package progress

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Sample is one structured progress reading decoded from a single output line.
type Sample struct {
	CompletedBytes int64
	TotalBytes     int64
	BytesPerSec    int64 // 0 when the line carried no usable speed
}

// The CLI reports transfer progress as carriage-return separated lines of the
// form:
//
//	Completed 256.0 KiB/1.5 MiB (1.2 MiB/s) with 1 file(s) remaining
//
// Anything else on the stream is diagnostics and carries no progress.
var progressLine = regexp.MustCompile(`Completed\s+([0-9.]+\s*[A-Za-z]+)/([0-9.]+\s*[A-Za-z]+)\s+\(([0-9.]+\s*[A-Za-z]+)/s\)`)

// Unit multipliers the CLI is known to emit. Binary units scale by 1024,
// decimal units by 1000.
var unitMultiplier = map[string]float64{
	"B":   1,
	"KiB": 1 << 10,
	"MiB": 1 << 20,
	"GiB": 1 << 30,
	"TiB": 1 << 40,
	"KB":  1e3,
	"MB":  1e6,
	"GB":  1e9,
	"TB":  1e12,
}

// ParseProgress decodes one line of tool output. Lines that do not match the
// progress grammar, or whose size tokens use an unknown unit, yield nil; they
// are not errors.
func ParseProgress(line string) *Sample {
	m := progressLine.FindStringSubmatch(line)
	if m == nil {
		return nil
	}

	completed, ok := parseSize(m[1])
	if !ok {
		return nil
	}
	total, ok := parseSize(m[2])
	if !ok {
		return nil
	}

	s := &Sample{CompletedBytes: completed, TotalBytes: total}
	if speed, ok := parseSize(m[3]); ok {
		s.BytesPerSec = speed
	}
	return s
}

// ConvertToBytes converts a size token such as "256.0 KiB" to bytes.
// Unparseable tokens convert to 0.
func ConvertToBytes(token string) int64 {
	n, _ := parseSize(token)
	return n
}

func parseSize(token string) (int64, bool) {
	fields := strings.Fields(strings.TrimSpace(token))

	var num, unit string
	switch len(fields) {
	case 1:
		// No separating space, e.g. "256.0KiB".
		i := strings.IndexFunc(fields[0], func(r rune) bool {
			return (r < '0' || r > '9') && r != '.'
		})
		if i <= 0 {
			return 0, false
		}
		num, unit = fields[0][:i], fields[0][i:]
	case 2:
		num, unit = fields[0], fields[1]
	default:
		return 0, false
	}

	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	mult, ok := unitMultiplier[unit]
	if !ok {
		return 0, false
	}
	return int64(math.Round(value * mult)), true
}
