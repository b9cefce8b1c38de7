package utils

const (
	// DefaultPageSize applies when a list request names no limit.
	DefaultPageSize = 20
	// MaxPageSize caps the limit of any list request.
	MaxPageSize = 100
)

// GetPaginationParams resolves optional offset and limit to concrete values.
// Negative offsets start at zero; missing or non-positive limits use DefaultPageSize.
func GetPaginationParams(offset *int, limit *int) (int, int) {
	resolvedOffset := 0
	if offset != nil && *offset > 0 {
		resolvedOffset = *offset
	}

	resolvedLimit := DefaultPageSize
	if limit != nil && *limit > 0 {
		resolvedLimit = min(*limit, MaxPageSize)
	}
	return resolvedOffset, resolvedLimit
}
