package suppression

import "github.com/ignite/fan-automation/internal/domain"

// Sentinel errors for the suppression service layer.
var (
	ErrNotFound         = domain.ErrNotFound
	ErrOverrideRequired = domain.ErrOverrideRequired
)
