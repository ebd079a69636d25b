package harvest

import "errors"

// ErrObjectNotFound is returned by BlobStore.Stat when no object exists
// under the requested key.
var ErrObjectNotFound = errors.New("object not found")
