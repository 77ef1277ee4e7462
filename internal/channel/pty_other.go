//go:build windows

package channel

import "errors"

// LocalConfig describes a shell started on a local pseudo-terminal.
type LocalConfig struct {
	Shell string
	Args  []string
	Dir   string
	Term  string
	Cols  int
	Rows  int
}

// StartLocal is not available on this platform.
func StartLocal(cfg LocalConfig, opts ...StreamOption) (*Stream, error) {
	return nil, errors.ErrUnsupported
}
