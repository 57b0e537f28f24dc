package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coverly/courier/internal/render"
)

const (
	brandingKey = "settings:branding"
	settingsTTL = 10 * time.Minute
)

// BrandingLoader loads the branding settings from the source of truth.
type BrandingLoader interface {
	LoadBranding(ctx context.Context) (*render.Branding, error)
}

// SettingsCache is a read-through cache for app branding settings, so a
// send does not hit the settings table every time. Invalidate must be
// called when the settings are updated.
type SettingsCache struct {
	client *Client
	loader BrandingLoader
	logger *zap.Logger
}

// NewSettingsCache creates a settings cache.
func NewSettingsCache(client *Client, loader BrandingLoader, logger *zap.Logger) *SettingsCache {
	return &SettingsCache{
		client: client,
		loader: loader,
		logger: logger,
	}
}

// Branding returns the cached branding settings, loading and caching
// them on a miss. A cache read failure falls through to the loader.
func (c *SettingsCache) Branding(ctx context.Context) (*render.Branding, error) {
	val, err := c.client.rdb.Get(ctx, brandingKey).Result()
	if err == nil {
		var b render.Branding
		if err := json.Unmarshal([]byte(val), &b); err == nil {
			return &b, nil
		}
		c.logger.Warn("discarding corrupt cached branding settings")
	} else if err != redis.Nil {
		c.logger.Warn("branding cache read failed", zap.Error(err))
	}

	b, err := c.loader.LoadBranding(ctx)
	if err != nil {
		return nil, fmt.Errorf("load branding settings: %w", err)
	}

	data, merr := json.Marshal(b)
	if merr == nil {
		if err := c.client.rdb.Set(ctx, brandingKey, data, settingsTTL).Err(); err != nil {
			c.logger.Warn("branding cache write failed", zap.Error(err))
		}
	}

	return b, nil
}

// Invalidate drops the cached branding settings.
func (c *SettingsCache) Invalidate(ctx context.Context) error {
	return c.client.rdb.Del(ctx, brandingKey).Err()
}
