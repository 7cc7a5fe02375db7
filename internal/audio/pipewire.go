package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// PipeWire manages PipeWire port queries
type PipeWire struct {
	// output runs a command and returns its stdout; replaced in tests
	output func(name string, args ...string) ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{
		output: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
	}
}

// ListPorts returns all capture-capable output ports known to PipeWire
func (pw *PipeWire) ListPorts() ([]string, error) {
	output, err := pw.output("pw-link", "-o")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePortList(string(output)), nil
}

// parsePortList drops headers and blank lines from pw-link output
func parsePortList(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		ports = append(ports, line)
	}
	return ports
}

// ValidatePort checks if a specific port exists and has no duplicates
func (pw *PipeWire) ValidatePort(portName string) error {
	if portName == "" || portName == "default" {
		return nil
	}

	allPorts, err := pw.ListPorts()
	if err != nil {
		return err
	}

	duplicates := pw.findPortDuplicatesInList(portName, allPorts)
	if len(duplicates) == 0 {
		slog.Debug("PipeWire port not found", "port", portName)
		return fmt.Errorf("port not found: %s", portName)
	}
	if len(duplicates) > 1 {
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", portName, duplicates)
	}

	return nil
}

// findPortDuplicatesInList finds all ports with exactly the same name
func (pw *PipeWire) findPortDuplicatesInList(portName string, allPorts []string) []string {
	var duplicates []string
	for _, port := range allPorts {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}

// nodeName strips the port suffix so "alsa_input.usb:capture_FL" targets the
// node "alsa_input.usb".
func nodeName(port string) string {
	if i := strings.LastIndex(port, ":"); i > 0 {
		return port[:i]
	}
	return port
}
