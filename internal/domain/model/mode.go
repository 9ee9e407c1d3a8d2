package model

// DataMode selects which provider set backs the manager.
type DataMode int

const (
	LiveMode DataMode = iota
	TestMode
)

func (m DataMode) String() string {
	switch m {
	case LiveMode:
		return "live"
	case TestMode:
		return "test"
	default:
		return "unknown"
	}
}

// KeyPrefix namespaces cache keys so generated data never answers live reads.
func (m DataMode) KeyPrefix() string {
	if m == TestMode {
		return "test:"
	}
	return ""
}
