package graphgen

import "fmt"

const (
	CodeInvalidGraphStructure = "INVALID_GRAPH_STRUCTURE"
	CodeDeduplicationFailed   = "DEDUPLICATION_FAILED"
	CodeAutoFixFailed         = "AUTO_FIX_FAILED"
)

// PipelineError is a structural failure inside the assembly pipeline. The
// orchestrator-level retry loop treats these as validation failures.
type PipelineError struct {
	Code    string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }
