package pool

import "errors"

// ErrInvalidConfig reports a tier layout that cannot work, such as
// non-ascending block sizes or an alignment that is not a power of two.
var ErrInvalidConfig = errors.New("pool: invalid configuration")
