package types

import "golang.org/x/xerrors"

var (
	ErrCatalogUnavailable     = xerrors.New("release catalog unavailable")
	ErrUnauthorized           = xerrors.New("unauthorized")
	ErrVersionNotFound        = xerrors.New("version not found")
	ErrPatchMetadataMalformed = xerrors.New("malformed patch metadata")
	ErrConflictDetected       = xerrors.New("patch conflicts detected")
	ErrResourceNotFound       = xerrors.New("resource not found")
	ErrInvalidIdentity        = xerrors.New("invalid user or group")
	ErrIncompatibleBaseImage  = xerrors.New("incompatible base image")
)
