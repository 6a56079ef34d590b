package challenge

// Key is the canonical identifier of a challenge category, e.g. "dog".
type Key string

func (k Key) String() string { return string(k) }

type Request struct {
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
}

// Result partitions the request's image ids: every id is either in Trues,
// in Errors, or was classified negative. Never both.
type Result struct {
	Trues  []string          `json:"trues"`
	Errors map[string]string `json:"errors"`
}

func NewResult() *Result {
	return &Result{
		Trues:  []string{},
		Errors: make(map[string]string),
	}
}
