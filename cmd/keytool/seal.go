package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/AnshRaj112/tagtrack-backend/internal/store"
	"github.com/AnshRaj112/tagtrack-backend/pkg/sealer"
)

// sealDeviceKeys seals every plaintext key column and returns the number of
// devices changed. Empty and already sealed values are left alone, so the
// command can be re-run.
func sealDeviceKeys(ctx context.Context, ks store.KeyStore, s *sealer.Sealer, dryRun bool, logger *zap.Logger) (int, error) {
	keys, err := ks.ListDeviceKeys(ctx)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, k := range keys {
		hashed, hashedChanged, err := sealValue(s, k.HashedAdvKey)
		if err != nil {
			return changed, fmt.Errorf("device %s: %w", k.DeviceID, err)
		}
		private, privateChanged, err := sealValue(s, k.PrivateKey)
		if err != nil {
			return changed, fmt.Errorf("device %s: %w", k.DeviceID, err)
		}
		if !hashedChanged && !privateChanged {
			continue
		}

		changed++
		if dryRun {
			logger.Info("would seal device keys", zap.String("device_id", k.DeviceID.String()))
			continue
		}
		k.HashedAdvKey, k.PrivateKey = hashed, private
		if err := ks.UpdateDeviceKeys(ctx, k); err != nil {
			return changed - 1, err
		}
		logger.Debug("sealed device keys", zap.String("device_id", k.DeviceID.String()))
	}
	return changed, nil
}

func sealValue(s *sealer.Sealer, value string) (string, bool, error) {
	if value == "" || sealer.IsSealed(value) {
		return value, false, nil
	}
	sealed, err := s.Seal(value)
	if err != nil {
		return "", false, err
	}
	return sealed, true, nil
}
