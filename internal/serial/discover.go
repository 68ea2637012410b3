package serial

import (
	"errors"
	"fmt"
	"sort"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// hooks for tests
var (
	detailedPorts = enumerator.GetDetailedPortsList
	plainPorts    = bugst.GetPortsList
)

// PortInfo describes a serial device found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	s := fmt.Sprintf("%s [%s:%s]", p.Name, p.VID, p.PID)
	if p.SerialNumber != "" {
		s += " serial=" + p.SerialNumber
	}
	if p.Product != "" {
		s += " " + p.Product
	}
	return s
}

// Discover lists the serial ports available on this host sorted by name.
// When the detailed enumerator is unsupported it falls back to bare names.
func Discover() ([]PortInfo, error) {
	details, err := detailedPorts()
	if err == nil {
		out := make([]PortInfo, 0, len(details))
		for _, d := range details {
			out = append(out, PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		sortPorts(out)
		return out, nil
	}
	names, perr := plainPorts()
	if perr != nil {
		return nil, fmt.Errorf("enumerate ports: %w", errors.Join(err, perr))
	}
	out := make([]PortInfo, 0, len(names))
	for _, n := range names {
		out = append(out, PortInfo{Name: n})
	}
	sortPorts(out)
	return out, nil
}

func sortPorts(ps []PortInfo) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
}
