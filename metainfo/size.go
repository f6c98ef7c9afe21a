package metainfo

import "fmt"

// Size is a byte count with human-readable formatting.
type Size uint64

const (
	KiB Size = 1024
	MiB      = 1024 * KiB
	GiB      = 1024 * MiB
)

func (s Size) String() string {
	switch {
	case s < KiB:
		return fmt.Sprintf("%d B", uint64(s))
	case s < MiB:
		return fmt.Sprintf("%.2f KiB", float64(s)/float64(KiB))
	case s < GiB:
		return fmt.Sprintf("%.2f MiB", float64(s)/float64(MiB))
	default:
		return fmt.Sprintf("%.2f GiB", float64(s)/float64(GiB))
	}
}
