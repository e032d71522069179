// Package in defines input ports (interfaces) for usecases. These
// interfaces describe the contract between driving adapters (CLI) and the
// business logic.
package in

import (
	"context"

	"github.com/snadboy/revpd/internal/domain"
)

// StaticRouteService is the Static Route Store's (C4) public contract.
type StaticRouteService interface {
	List(ctx context.Context) ([]domain.StaticRecord, error)
	Get(ctx context.Context, domainKey string) (domain.StaticRecord, error)
	Create(ctx context.Context, record domain.StaticRecord) error
	Update(ctx context.Context, domainKey string, record domain.StaticRecord) error
	Delete(ctx context.Context, domainKey string) error
	// Info reports the store's health: the last parse error, if the
	// in-memory set currently diverges from a corrupt on-disk document.
	Info(ctx context.Context) StaticStoreInfo
}

// StaticStoreInfo summarizes the store's health for a status report.
type StaticStoreInfo struct {
	RecordCount int
	LastError   string // empty when the last load/reload succeeded
}
