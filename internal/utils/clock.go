package utils

import "time"

// Clock reports the current time. Tests substitute a manual clock.
type Clock func() time.Time
