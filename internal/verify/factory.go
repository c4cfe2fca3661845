package verify

import (
	"errors"
	"fmt"

	"keyhub/internal/models"
)

// NewChecker builds the Checker selected by cfg. pool backs the offline
// mode and may be nil otherwise.
func NewChecker(cfg models.VerifyConfig, pool PoolLookup) (Checker, error) {
	switch cfg.Mode {
	case models.VerifyModePool:
		if pool == nil {
			return nil, errors.New("pool verification requires a key pool")
		}
		return NewPoolChecker(pool), nil
	case models.VerifyModeCollaborator:
		switch cfg.Provider {
		case models.ProviderOpenAI:
			return NewCollaboratorChecker(cfg, nil), nil
		case models.ProviderGemini:
			return NewGeminiChecker(cfg.Timeout), nil
		default:
			return nil, fmt.Errorf("unsupported verify provider: %s", cfg.Provider)
		}
	default:
		return nil, fmt.Errorf("unsupported verify mode: %s", cfg.Mode)
	}
}
