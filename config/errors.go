// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is the sentinel wrapped by Validate's failures.
var ErrInvalidConfig = errors.New("config: invalid")

func wrapInvalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, reason)
}
