package common

import "fmt"

var (
	ErrNoFallbackTransport = fmt.Errorf("file exceeds primary size limit and no fallback transport is configured")
	ErrFolderCollision     = fmt.Errorf("remote folder name collision")
	ErrNoItemsSucceeded    = fmt.Errorf("no items succeeded")
	ErrSessionRejected     = fmt.Errorf("storage backend rejected session")
)
