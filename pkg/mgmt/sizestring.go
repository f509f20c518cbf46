package mgmt

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/diskquota-db/diskquota/pkg/types"
)

// ParseSize parses the size string grammar management functions accept
// (§6): a decimal integer optionally followed by kB|MB|GB|TB, -1 for
// "unlimited" (types.NoLimit), and 0 for "deny all" (types.DenyAll).
// The result is always in megabytes, matching QuotaConfig.LimitMB.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "-1" {
		return types.NoLimit, nil
	}
	if s == "0" {
		return types.DenyAll, nil
	}
	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	const mb = 1 << 20
	return int64(bytes+mb-1) / mb, nil
}

// FormatSize renders a QuotaConfig.LimitMB value for display in views
// and CLI output: "-1", "0", or a binary-unit string such as "10 MiB",
// which lies outside the kB|MB|GB|TB grammar ParseSize documents.
func FormatSize(limitMB int64) string {
	switch limitMB {
	case types.NoLimit:
		return "-1"
	case types.DenyAll:
		return "0"
	default:
		return humanize.IBytes(uint64(limitMB) * (1 << 20))
	}
}
