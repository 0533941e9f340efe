package shared

const (
	// DefaultListLimit caps list endpoints when no limit is given.
	DefaultListLimit = 200
	// MaxListLimit is the hard ceiling for list endpoints.
	MaxListLimit = 1000
)

// ClampLimit normalises a caller-supplied list limit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
