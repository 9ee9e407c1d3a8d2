package model

// QualityScore is an advisory per-quote assessment in the 0..1 range.
type QualityScore struct {
	Completeness      float64  `json:"completeness"`
	Consistency       float64  `json:"consistency"`
	Timeliness        float64  `json:"timeliness"`
	SourceReliability float64  `json:"source_reliability"`
	Overall           float64  `json:"overall"`
	Grade             string   `json:"grade"`
	Issues            []string `json:"issues,omitempty"`
}

func GradeFor(overall float64) string {
	switch {
	case overall >= 0.9:
		return "A"
	case overall >= 0.75:
		return "B"
	case overall >= 0.6:
		return "C"
	default:
		return "D"
	}
}
