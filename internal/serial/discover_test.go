package serial

import (
	"errors"
	"testing"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

func TestDiscoverDetailed(t *testing.T) {
	detailedPorts = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/rfcomm0"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10c4", PID: "ea60", SerialNumber: "0001", Product: "CP2102"},
		}, nil
	}
	defer func() { detailedPorts = enumerator.GetDetailedPortsList }()

	ports, err := Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(ports) != 2 || ports[0].Name != "/dev/rfcomm0" {
		t.Fatalf("unexpected ports %+v", ports)
	}
	if s := ports[1].String(); s != "/dev/ttyUSB0 [10c4:ea60] serial=0001 CP2102" {
		t.Fatalf("String()=%q", s)
	}
}

func TestDiscoverFallback(t *testing.T) {
	detailedPorts = func() ([]*enumerator.PortDetails, error) { return nil, errors.New("unsupported") }
	plainPorts = func() ([]string, error) { return []string{"COM4", "COM3"}, nil }
	defer func() {
		detailedPorts = enumerator.GetDetailedPortsList
		plainPorts = bugst.GetPortsList
	}()
	ports, err := Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(ports) != 2 || ports[0].Name != "COM3" || ports[0].String() != "COM3" {
		t.Fatalf("unexpected ports %+v", ports)
	}
}

func TestDiscoverBothEnumeratorsFail(t *testing.T) {
	errDetailed := errors.New("unsupported")
	errPlain := errors.New("permission denied")
	detailedPorts = func() ([]*enumerator.PortDetails, error) { return nil, errDetailed }
	plainPorts = func() ([]string, error) { return nil, errPlain }
	defer func() {
		detailedPorts = enumerator.GetDetailedPortsList
		plainPorts = bugst.GetPortsList
	}()
	_, err := Discover()
	if !errors.Is(err, errPlain) || !errors.Is(err, errDetailed) {
		t.Fatalf("expected both enumerator errors, got %v", err)
	}
}

func TestOpenerFor(t *testing.T) {
	for _, d := range []string{"", DriverTarm, DriverBugst, DriverLoopback} {
		if _, err := OpenerFor(d); err != nil {
			t.Fatalf("OpenerFor(%q): %v", d, err)
		}
	}
	if _, err := OpenerFor("usb"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
