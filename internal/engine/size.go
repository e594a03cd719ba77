package engine

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseSize parses a human-readable size like "25MB" or "10MiB" into bytes.
// SI suffixes are powers of 1000, IEC suffixes powers of 1024. A plain
// number is treated as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative size: %s", s)
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size out of range: %s", s)
	}
	return int64(n), nil
}

// FormatSize renders a byte count for humans.
func FormatSize(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	return humanize.Bytes(uint64(n))
}
