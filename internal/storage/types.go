package storage

// Instance is the metadata written once at initialization.
type Instance struct {
	Admin         string `json:"admin" yaml:"admin"`
	TokenAsset    string `json:"token_asset" yaml:"token_asset"`
	NextOrderID   uint64 `json:"next_order_id" yaml:"next_order_id"`
	InitializedAt uint64 `json:"initialized_at" yaml:"initialized_at"`
}

// Package is a catalog entry: the price and the seconds of access it buys.
type Package struct {
	ID           uint32 `json:"id" yaml:"id"`
	Price        int64  `json:"price" yaml:"price"`
	DurationSecs uint32 `json:"duration_secs" yaml:"duration_secs"`
	UpdatedAt    uint64 `json:"updated_at" yaml:"updated_at"`
}

// Session is the time balance of one owner. StartedAt is zero while paused.
type Session struct {
	Owner         string `json:"owner" yaml:"owner"`
	StartedAt     uint64 `json:"started_at" yaml:"started_at"`
	RemainingSecs uint32 `json:"remaining_secs" yaml:"remaining_secs"`
}

// Running reports whether the session clock is running.
func (s Session) Running() bool {
	return s.StartedAt > 0
}

// Order is a purchase record. Price and DurationSecs are copied from the
// package at purchase time.
type Order struct {
	ID           uint64 `json:"id" yaml:"id"`
	Owner        string `json:"owner" yaml:"owner"`
	PackageID    uint32 `json:"package_id" yaml:"package_id"`
	Price        int64  `json:"price" yaml:"price"`
	DurationSecs uint32 `json:"duration_secs" yaml:"duration_secs"`
	Granted      bool   `json:"granted" yaml:"granted"`
	CreatedAt    uint64 `json:"created_at" yaml:"created_at"`
	GrantedAt    uint64 `json:"granted_at,omitempty" yaml:"granted_at,omitempty"`
}

// ConsumedEntry records an authorization entry that already took effect.
// It only needs to outlive the entry itself.
type ConsumedEntry struct {
	Subject    string `json:"subject" yaml:"subject"`
	ID         string `json:"id" yaml:"id"`
	Digest     string `json:"digest" yaml:"digest"`
	ExpiresAt  uint64 `json:"expires_at" yaml:"expires_at"`
	ConsumedAt uint64 `json:"consumed_at" yaml:"consumed_at"`
}
