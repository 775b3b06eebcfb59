// Package blob is the entry point for upload-area object storage. Callers
// depend on Store; the concrete backends live under internal/infra/blob.
package blob

import (
	"morphicutil/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// Lookup errors, matchable with errors.Is.
var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)
