package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Captured output lines from real transfers. Only the "Completed ..." lines
// carry progress; everything else must parse to nil without error.
func TestParseProgress(t *testing.T) {
	tests := []struct {
		name string
		line string
		want *Sample
	}{
		{
			name: "mid transfer with remaining count",
			line: "Completed 256.0 KiB/1.5 MiB (1.2 MiB/s) with 1 file(s) remaining",
			want: &Sample{CompletedBytes: 262144, TotalBytes: 1572864, BytesPerSec: 1258291},
		},
		{
			name: "gigabyte scale",
			line: "Completed 2.5 GiB/10.0 GiB (45.3 MiB/s) with 1 file(s) remaining",
			want: &Sample{CompletedBytes: 2684354560, TotalBytes: 10737418240, BytesPerSec: 47500493},
		},
		{
			name: "decimal units",
			line: "Completed 500.0 KB/1.0 GB (2.5 MB/s) with 1 file(s) remaining",
			want: &Sample{CompletedBytes: 500000, TotalBytes: 1000000000, BytesPerSec: 2500000},
		},
		{
			name: "plain bytes",
			line: "Completed 512 B/1024 B (256 B/s) with 1 file(s) remaining",
			want: &Sample{CompletedBytes: 512, TotalBytes: 1024, BytesPerSec: 256},
		},
		{
			name: "completion echo line",
			line: "upload: ./package.tar.gz to s3://bucket/path/package.tar.gz",
			want: nil,
		},
		{
			name: "warning line",
			line: "warning: Skipping file. File is character special device.",
			want: nil,
		},
		{
			name: "empty line",
			line: "",
			want: nil,
		},
		{
			name: "unknown unit degrades to nil",
			line: "Completed 1.0 XB/2.0 MiB (1.0 MiB/s)",
			want: nil,
		},
		{
			name: "unknown total unit degrades to nil",
			line: "Completed 1.0 MiB/2.0 QiB (1.0 MiB/s)",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseProgress(tt.line)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want.CompletedBytes, got.CompletedBytes)
			assert.Equal(t, tt.want.TotalBytes, got.TotalBytes)
			assert.Equal(t, tt.want.BytesPerSec, got.BytesPerSec)
		})
	}
}

func TestParseProgressUnknownSpeedKeepsSizes(t *testing.T) {
	got := ParseProgress("Completed 1.0 MiB/2.0 MiB (1.0 XB/s)")
	require.NotNil(t, got)
	assert.Equal(t, int64(1048576), got.CompletedBytes)
	assert.Equal(t, int64(2097152), got.TotalBytes)
	assert.Zero(t, got.BytesPerSec)
}

func TestConvertToBytes(t *testing.T) {
	tests := []struct {
		token string
		want  int64
	}{
		{"256.0 KiB", 262144},
		{"1.5 MiB", 1572864},
		{"1 B", 1},
		{"1.0 GiB", 1073741824},
		{"1.0 TiB", 1099511627776},
		{"2 KB", 2000},
		{"3.5 MB", 3500000},
		{"1 GB", 1000000000},
		{"1 TB", 1000000000000},
		{"256.0KiB", 262144},
		{"0 B", 0},
		{"garbage", 0},
		{"", 0},
		{"12", 0},
		{"MiB 1.5", 0},
		{"1.5 MiB extra", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ConvertToBytes(tt.token), "token %q", tt.token)
	}
}
