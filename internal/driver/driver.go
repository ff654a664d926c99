// Package driver defines the contract the executor uses to drive a
// physical (or simulated) instrument: an opaque, name-addressed function
// that performs one Protocol's work and optionally returns the file paths
// it produced. The driver is intentionally out of scope for this
// specification beyond its signature — transport, retries, and hardware
// integration belong to the adapter that implements Func.
package driver

import "context"

// Func runs one Protocol's work unit by name and returns the ordered list
// of file paths it produced, or nil if it produced none. An error is
// surfaced to the executor as a DriverFailure.
type Func func(ctx context.Context, name string) ([]string, error)
