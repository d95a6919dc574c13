package redis

import (
	"fmt"
	"strconv"

	"github.com/goodtune/accesstime/internal/storage"
)

// parseInstance converts a Redis hash to Instance
func parseInstance(data map[string]string) (*storage.Instance, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	nextOrderID, err := strconv.ParseUint(data["next_order_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse next_order_id: %w", err)
	}

	initializedAt, err := parseOptionalUint(data["initialized_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse initialized_at: %w", err)
	}

	return &storage.Instance{
		Admin:         data["admin"],
		TokenAsset:    data["token_asset"],
		NextOrderID:   nextOrderID,
		InitializedAt: initializedAt,
	}, nil
}

func instanceFields(inst storage.Instance) map[string]interface{} {
	return map[string]interface{}{
		"admin":          inst.Admin,
		"token_asset":    inst.TokenAsset,
		"next_order_id":  strconv.FormatUint(inst.NextOrderID, 10),
		"initialized_at": strconv.FormatUint(inst.InitializedAt, 10),
	}
}

// parsePackage converts a Redis hash to Package
func parsePackage(data map[string]string) (*storage.Package, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	id, err := strconv.ParseUint(data["id"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id: %w", err)
	}

	price, err := strconv.ParseInt(data["price"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}

	duration, err := strconv.ParseUint(data["duration_secs"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration_secs: %w", err)
	}

	updatedAt, err := parseOptionalUint(data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.Package{
		ID:           uint32(id),
		Price:        price,
		DurationSecs: uint32(duration),
		UpdatedAt:    updatedAt,
	}, nil
}

func packageFields(pkg storage.Package) map[string]interface{} {
	return map[string]interface{}{
		"id":            strconv.FormatUint(uint64(pkg.ID), 10),
		"price":         strconv.FormatInt(pkg.Price, 10),
		"duration_secs": strconv.FormatUint(uint64(pkg.DurationSecs), 10),
		"updated_at":    strconv.FormatUint(pkg.UpdatedAt, 10),
	}
}

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := strconv.ParseUint(data["started_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	remaining, err := strconv.ParseUint(data["remaining_secs"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remaining_secs: %w", err)
	}

	return &storage.Session{
		Owner:         data["owner"],
		StartedAt:     startedAt,
		RemainingSecs: uint32(remaining),
	}, nil
}

func sessionFields(s storage.Session) map[string]interface{} {
	return map[string]interface{}{
		"owner":          s.Owner,
		"started_at":     strconv.FormatUint(s.StartedAt, 10),
		"remaining_secs": strconv.FormatUint(uint64(s.RemainingSecs), 10),
	}
}

// parseOrder converts a Redis hash to Order
func parseOrder(data map[string]string) (*storage.Order, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	id, err := strconv.ParseUint(data["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id: %w", err)
	}

	packageID, err := strconv.ParseUint(data["package_id"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to parse package_id: %w", err)
	}

	price, err := strconv.ParseInt(data["price"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}

	duration, err := strconv.ParseUint(data["duration_secs"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration_secs: %w", err)
	}

	granted, err := strconv.ParseBool(data["granted"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse granted: %w", err)
	}

	createdAt, err := parseOptionalUint(data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	grantedAt, err := parseOptionalUint(data["granted_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse granted_at: %w", err)
	}

	return &storage.Order{
		ID:           id,
		Owner:        data["owner"],
		PackageID:    uint32(packageID),
		Price:        price,
		DurationSecs: uint32(duration),
		Granted:      granted,
		CreatedAt:    createdAt,
		GrantedAt:    grantedAt,
	}, nil
}

func orderFields(o storage.Order) map[string]interface{} {
	return map[string]interface{}{
		"id":            strconv.FormatUint(o.ID, 10),
		"owner":         o.Owner,
		"package_id":    strconv.FormatUint(uint64(o.PackageID), 10),
		"price":         strconv.FormatInt(o.Price, 10),
		"duration_secs": strconv.FormatUint(uint64(o.DurationSecs), 10),
		"granted":       strconv.FormatBool(o.Granted),
		"created_at":    strconv.FormatUint(o.CreatedAt, 10),
		"granted_at":    strconv.FormatUint(o.GrantedAt, 10),
	}
}

// parseConsumed converts a Redis hash to ConsumedEntry
func parseConsumed(data map[string]string) (*storage.ConsumedEntry, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	expiresAt, err := strconv.ParseUint(data["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expires_at: %w", err)
	}

	consumedAt, err := parseOptionalUint(data["consumed_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse consumed_at: %w", err)
	}

	return &storage.ConsumedEntry{
		Subject:    data["subject"],
		ID:         data["id"],
		Digest:     data["digest"],
		ExpiresAt:  expiresAt,
		ConsumedAt: consumedAt,
	}, nil
}

func consumedFields(e storage.ConsumedEntry) map[string]interface{} {
	return map[string]interface{}{
		"subject":     e.Subject,
		"id":          e.ID,
		"digest":      e.Digest,
		"expires_at":  strconv.FormatUint(e.ExpiresAt, 10),
		"consumed_at": strconv.FormatUint(e.ConsumedAt, 10),
	}
}

func parseOptionalUint(value string) (uint64, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.ParseUint(value, 10, 64)
}
