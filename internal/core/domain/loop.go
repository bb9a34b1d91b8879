package domain

// LoopStep records one iteration of the agent loop's think/execute/observe
// cycle.
type LoopStep struct {
	Code          string `json:"code,omitempty"`
	Observation   string `json:"observation,omitempty"`
	IsFinalAnswer bool   `json:"is_final_answer"`
	FinalAnswer   string `json:"final_answer,omitempty"`
}

// LoopResult is a successful loop outcome.
type LoopResult struct {
	Answer     string     `json:"answer"`
	Iterations int        `json:"iterations"`
	Steps      []LoopStep `json:"steps"`
}
