package queryopt

import "github.com/burugo/queryopt/common"

// Errors re-exported from common so callers only need to import the root package.
var (
	ErrNotFound       = common.ErrNotFound
	ErrInvalidQuery   = common.ErrInvalidQuery
	ErrInvalidConfig  = common.ErrInvalidConfig
	ErrCursorNotFound = common.ErrCursorNotFound
	ErrProviderNotSet = common.ErrProviderNotSet
	ErrNotConfigured  = common.ErrNotConfigured
	ErrClosed         = common.ErrClosed
)
