package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates model responses against a JSON Schema. Planner and
// coder outputs go through it before anything touches the state record.
type Validator struct {
	schema     *jsonschema.Schema
	schemaJSON json.RawMessage
	maxRetries int
	strictMode bool
}

// NewValidator compiles a JSON Schema for validation.
func NewValidator(schemaJSON json.RawMessage, maxRetries int, strict bool) (*Validator, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	if maxRetries == 0 {
		maxRetries = 2
	}
	return &Validator{
		schema:     schema,
		schemaJSON: schemaJSON,
		maxRetries: maxRetries,
		strictMode: strict,
	}, nil
}

// SchemaJSON returns the raw schema for prompt injection.
func (v *Validator) SchemaJSON() json.RawMessage {
	return v.schemaJSON
}

// MaxRetries returns the configured max retries.
func (v *Validator) MaxRetries() int {
	return v.maxRetries
}

// Result is the outcome of validating a response.
type Result struct {
	Valid   bool
	Raw     string
	JSON    string
	Parsed  any
	Warning string
}

// ValidationError describes a schema validation failure.
type ValidationError struct {
	Message string
	Raw     string
	Parsed  any
}

func (e *ValidationError) Error() string { return e.Message }

// ValidateResponse extracts JSON from the model's response and validates it
// against the schema.
func (v *Validator) ValidateResponse(responseText string) (*Result, error) {
	jsonStr := ExtractJSON(responseText)
	if jsonStr == "" {
		if v.strictMode {
			return nil, &ValidationError{
				Message: "response does not contain valid JSON",
				Raw:     responseText,
			}
		}
		return &Result{
			Valid:   false,
			Raw:     responseText,
			Warning: "no JSON found in response; passing through raw text",
		}, nil
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return nil, &ValidationError{
			Message: fmt.Sprintf("invalid JSON: %s", err),
			Raw:     responseText,
		}
	}

	if err := v.schema.Validate(parsed); err != nil {
		return nil, &ValidationError{
			Message: fmt.Sprintf("schema validation failed: %s", err),
			Raw:     responseText,
			Parsed:  parsed,
		}
	}

	return &Result{
		Valid:  true,
		Raw:    responseText,
		JSON:   jsonStr,
		Parsed: parsed,
	}, nil
}

// ValidateAndRepair validates a response and re-asks the model on failure,
// feeding the validation error back. Returns the validated JSON string and a
// non-fatal description of the last validation failure; err is only set when
// the repair call itself fails.
func ValidateAndRepair(ctx context.Context, client Client, role string, v *Validator, responseText string) (validJSON string, parsed any, validationErr string, err error) {
	if v == nil {
		return "", nil, "", nil
	}

	for attempt := 0; attempt <= v.MaxRetries(); attempt++ {
		result, valErr := v.ValidateResponse(responseText)
		if valErr == nil && result != nil && result.Valid {
			return result.JSON, result.Parsed, "", nil
		}

		if attempt == v.MaxRetries() {
			if valErr != nil {
				return "", nil, valErr.Error(), nil
			}
			if result != nil {
				return "", nil, result.Warning, nil
			}
			return "", nil, "validation failed", nil
		}

		var errMsg string
		if valErr != nil {
			errMsg = valErr.Error()
		} else if result != nil {
			errMsg = result.Warning
		}

		repairPrompt := fmt.Sprintf(
			"Your response did not match the required JSON schema. Error: %s\n\n"+
				"Respond again with only valid JSON matching this schema:\n%s",
			errMsg, string(v.SchemaJSON()),
		)
		responseText, err = client.Chat(ctx, role, []Message{{Role: "user", Content: repairPrompt}})
		if err != nil {
			return "", nil, "", fmt.Errorf("repair generate: %w", err)
		}
	}

	return "", nil, "validation failed after retries", nil
}

// ExtractJSON finds a JSON object or array in the response text.
func ExtractJSON(text string) string {
	// 1. Fenced JSON block: ```json\n...\n```
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}

	// 2. Generic fenced block: ```\n...\n```
	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	// 3. Raw JSON: find first { or [ and match closing
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}

	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced extracts a balanced JSON structure from the start of the string.
func extractBalanced(s string) string {
	if len(s) == 0 {
		return ""
	}

	open := s[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}

		if ch == '\\' && inString {
			escaped = true
			continue
		}

		if ch == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if ch == open {
			depth++
		} else if ch == close {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}

	return ""
}
