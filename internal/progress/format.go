package progress

import (
	"fmt"
	"strings"
)

// FormatSize formats a byte count for display. Scaling is 1024-based but the
// labels are the decimal ones the tool has always printed; keep it that way
// for output compatibility.
func FormatSize(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}

	value := float64(bytes)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if value < 1024 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1f PB", value)
}

// FormatSpeed formats a throughput reading.
func FormatSpeed(bytesPerSec int64) string {
	if bytesPerSec <= 0 {
		return ""
	}
	return FormatSize(bytesPerSec) + "/s"
}

// EstimateETA estimates the time remaining for a transfer. Returns "" when
// the speed is zero or unknown.
func EstimateETA(remainingBytes, bytesPerSec int64) string {
	if bytesPerSec <= 0 || remainingBytes < 0 {
		return ""
	}

	secs := remainingBytes / bytesPerSec
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}

// RenderProgressBar renders a single-line progress bar for the given reading.
// Returns "" when the total is unknown.
func RenderProgressBar(completed, total, bytesPerSec int64, width int) string {
	if total == 0 {
		return ""
	}
	if width <= 0 {
		width = 40
	}

	filled := int(int64(width) * completed / total)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	percent := 100 * completed / total
	if percent > 100 {
		percent = 100
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	line := fmt.Sprintf("[%s] %d%% %s/%s", bar, percent, FormatSize(completed), FormatSize(total))

	if speed := FormatSpeed(bytesPerSec); speed != "" {
		line += " " + speed
		if eta := EstimateETA(total-completed, bytesPerSec); eta != "" {
			line += " ETA " + eta
		}
	}
	return line
}
