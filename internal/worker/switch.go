package worker

import (
	"context"
	"fmt"
	"strconv"

	"content-pilot/internal/metrics"
)

// AutoPublishSetting is the settings key holding the global auto-publish switch.
const AutoPublishSetting = "auto_publish_enabled"

type settingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// StoreSwitch keeps the auto-publish switch in the store so every process
// sharing it sees the same state. Unset means enabled.
type StoreSwitch struct {
	store settingsStore
}

func NewStoreSwitch(st settingsStore) *StoreSwitch {
	return &StoreSwitch{store: st}
}

func (s *StoreSwitch) Enabled(ctx context.Context) (bool, error) {
	v, ok, err := s.store.GetSetting(ctx, AutoPublishSetting)
	if err != nil {
		return false, fmt.Errorf("read auto-publish switch: %w", err)
	}
	if !ok {
		setGauge(true)
		return true, nil
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("auto-publish switch holds %q: %w", v, err)
	}
	setGauge(enabled)
	return enabled, nil
}

func (s *StoreSwitch) SetEnabled(ctx context.Context, enabled bool) error {
	if err := s.store.SetSetting(ctx, AutoPublishSetting, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("write auto-publish switch: %w", err)
	}
	setGauge(enabled)
	return nil
}

func setGauge(enabled bool) {
	if enabled {
		metrics.AutoPublishEnabled.Set(1)
		return
	}
	metrics.AutoPublishEnabled.Set(0)
}
