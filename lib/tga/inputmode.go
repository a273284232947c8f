package tga

import (
	"fmt"

	"github.com/hqe-lab/labsync"
)

// InputMode tells how the two level fields of a channel are entered.
type InputMode string

const (
	AmpOffset InputMode = "Amp+Offset"
	LowHigh   InputMode = "Low+High"
)

// Resolve turns the two level fields of a channel into the amplitude and
// offset the generator takes. In Low+High mode a and b are the low and high
// levels; in Amp+Offset mode they are passed through.
func Resolve(mode InputMode, a, b float64) (amplitude, offset float64, err error) {
	switch mode {
	case AmpOffset, "":
		return a, b, nil
	case LowHigh:
		return b - a, (b + a) / 2, nil
	}
	return 0, 0, fmt.Errorf("%w: input mode %q", labsync.ErrBadArgument, mode)
}
