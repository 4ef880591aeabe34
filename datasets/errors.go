package datasets

import "errors"

// ErrInvalidArgument is wrapped by every construction error caused by bad
// caller input: empty sample sets, missing normalization statistics,
// inconsistent window bounds, and so on.
var ErrInvalidArgument = errors.New("invalid argument")
