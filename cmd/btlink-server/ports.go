package main

import (
	"fmt"
	"io"

	"github.com/kstaniek/go-btlink/internal/metrics"
	"github.com/kstaniek/go-btlink/internal/serial"
)

// discoverPorts is a hook for tests.
var discoverPorts = serial.Discover

// listPorts prints one discovered port per line.
func listPorts(w io.Writer) error {
	ports, err := discoverPorts()
	if err != nil {
		metrics.IncError(metrics.ErrPortDiscovery)
		return err
	}
	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "no serial ports found")
		return err
	}
	for _, p := range ports {
		if _, err := fmt.Fprintln(w, p.String()); err != nil {
			return err
		}
	}
	return nil
}
