// Package find locates USB serial adapters, so configurations can name an
// instrument by its adapter's serial number instead of a tty that moves
// between boots.
package find

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrNotFound is returned when no port passes the filter.
var ErrNotFound = errors.New("no matching ttys found")

type FilterFn func(*Usbtty) bool

// FTDIFilter matches FT232 based adapters, as shipped with the stage
// controller cable.
func FTDIFilter(ut *Usbtty) bool {
	return strings.EqualFold(ut.IDv, "0403")
}

func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

func VendorProductFilter(vid, pid string) FilterFn {
	return func(ut *Usbtty) bool {
		return strings.EqualFold(ut.IDv, vid) && strings.EqualFold(ut.IDp, pid)
	}
}

func ProductFilter(substr string) FilterFn {
	return func(ut *Usbtty) bool { return strings.Contains(ut.Prod, substr) }
}

// Find searches for a usb serial device. If filter is not nil,
// it is used to narrow choices down. The first device for which
// it returns true (if any) is chosen.
func Find(filter FilterFn) (string, error) {
	ttys, err := AllUsbTtys()
	if err != nil {
		return "", err
	}
	return pick(ttys, filter)
}

func pick(ttys Usbttys, filter FilterFn) (string, error) {
	if filter != nil {
		var match Usbttys
		for i := range ttys {
			if filter(&ttys[i]) {
				match = Usbttys{ttys[i]}
				break
			}
		}
		ttys = match
	}

	if len(ttys) == 0 {
		return "", ErrNotFound
	}
	if len(ttys) == 1 {
		return ttys[0].Dev, nil
	}
	return "", fmt.Errorf("multiple ttys:\n%s", ttys)
}

type Usbtty struct {
	Dev      string
	IDp, IDv string
	Prod     string
	Serial   string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s pid/vid %s/%s prod %s serial %s", u.Dev, u.IDp, u.IDv, u.Prod, u.Serial)
}

type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// AllUsbTtys lists serial ports backed by a USB device.
func AllUsbTtys() (Usbttys, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	return fromPorts(ports), nil
}

func fromPorts(ports []*enumerator.PortDetails) Usbttys {
	var devs Usbttys
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		devs = append(devs, Usbtty{
			Dev:    p.Name,
			IDp:    p.PID,
			IDv:    p.VID,
			Prod:   p.Product,
			Serial: p.SerialNumber,
		})
	}
	return devs
}
