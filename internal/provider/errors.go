package provider

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a provider config that is missing required
// fields or holds invalid values. It is fatal for that provider's cycle only.
type ConfigurationError struct {
	Adapter string
	Fields  []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider %s: invalid configuration", e.Adapter)
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Fields, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// FetchError reports a failure reaching or reading a source.
type FetchError struct {
	Adapter string
	Stage   string // "download" or "parse"
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Adapter, e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NotFoundError is returned when no adapter is registered for a key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provider: no adapter registered for %q", e.Key)
}

// DuplicateError is returned when an adapter key is registered twice.
type DuplicateError struct {
	Key string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("provider: adapter %q already registered", e.Key)
}
