package session

import (
	"context"
	"fmt"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/cnst"
	"github.com/KumarDeepankar/mcp-gateway/internal/common/config"

	"go.uber.org/zap"
)

// NewStore creates a session store based on the configuration
func NewStore(ctx context.Context, logger *zap.Logger, cfg *config.SessionConfig) (Store, error) {
	switch cfg.Type {
	case cnst.SessionStoreRedis:
		return NewRedisStore(ctx, logger, cfg.Redis)
	case cnst.SessionStoreMemory, "":
		return NewMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("unknown session store type: %s", cfg.Type)
	}
}
