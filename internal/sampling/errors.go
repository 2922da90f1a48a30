package sampling

import "errors"

// ErrInvalidSettings is returned for settings that cannot be used.
var ErrInvalidSettings = errors.New("invalid sampling settings")
