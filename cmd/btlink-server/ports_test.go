package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kstaniek/go-btlink/internal/serial"
)

func TestListPorts(t *testing.T) {
	discoverPorts = func() ([]serial.PortInfo, error) {
		return []serial.PortInfo{
			{Name: "/dev/rfcomm0"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A1B2"},
		}, nil
	}
	t.Cleanup(func() { discoverPorts = serial.Discover })
	var buf bytes.Buffer
	if err := listPorts(&buf); err != nil {
		t.Fatalf("listPorts: %v", err)
	}
	want := "/dev/rfcomm0\n/dev/ttyUSB0 [0403:6001] serial=A1B2\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestListPortsEmptyAndError(t *testing.T) {
	discoverPorts = func() ([]serial.PortInfo, error) { return nil, nil }
	t.Cleanup(func() { discoverPorts = serial.Discover })
	var buf bytes.Buffer
	if err := listPorts(&buf); err != nil || buf.String() != "no serial ports found\n" {
		t.Fatalf("empty: %q %v", buf.String(), err)
	}
	discoverPorts = func() ([]serial.PortInfo, error) { return nil, errors.New("enumerator unsupported") }
	if err := listPorts(&buf); err == nil {
		t.Fatalf("expected error")
	}
}

func TestListenPort(t *testing.T) {
	cases := map[string]int{"[::]:20100": 20100, "127.0.0.1:9": 9, ":0": 0, "bogus": 0}
	for in, want := range cases {
		if got := listenPort(in); got != want {
			t.Fatalf("listenPort(%q) = %d want %d", in, got, want)
		}
	}
}

func TestMDNSMeta(t *testing.T) {
	c := defaultConfig()
	c.mdnsName = "bench"
	if mdnsInstance(c) != "bench" {
		t.Fatalf("instance: %q", mdnsInstance(c))
	}
	meta := mdnsMeta(c)
	if meta[0] != "driver=tarm" || meta[1] != "baud=9600" {
		t.Fatalf("meta: %v", meta)
	}
}
