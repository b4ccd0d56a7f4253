package netaddr

import "errors"

// ErrNoAddress is returned when no interface qualifies.
var ErrNoAddress = errors.New("netaddr: no usable network interface")
