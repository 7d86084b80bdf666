package prompts

import "fmt"

const CodeTemplateError = "PROMPT_TEMPLATE_ERROR"

// TemplateError covers a missing (type, version) pair or an absent required
// context key. Non-retryable: it is a caller bug.
type TemplateError struct {
	Type    PromptType
	Version PromptVersion
	Reason  string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("%s: %s/%s: %s", CodeTemplateError, e.Type, e.Version, e.Reason)
}

func (e *TemplateError) Code() string { return CodeTemplateError }
