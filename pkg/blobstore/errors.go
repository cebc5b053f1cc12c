package blobstore

import "errors"

// ErrIntegrity is returned when a stored payload cannot be authenticated or
// decoded, for example after tampering or when read with the wrong key.
var ErrIntegrity = errors.New("stored payload failed integrity check")
