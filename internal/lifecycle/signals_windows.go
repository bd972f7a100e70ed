//go:build windows

package lifecycle

import "os"

// TerminationSignals lists the signals that end a capture run.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
