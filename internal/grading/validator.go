package grading

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validation failure kinds. MalformedJSON and incomplete coverage are
// terminal for a job; score drift is repaired by clamping and only warned.
const (
	ValidationMalformedJSON    = "malformed_json"
	ValidationIncompleteRubric = "incomplete_rubric_coverage"
)

// ValidationError describes why a provider response failed the grading
// contract.
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("grade validation failed (%s): %s", e.Kind, e.Message)
}

const gradeSchema = `{
  "type": "object",
  "required": ["total_points", "parts"],
  "properties": {
    "total_points": {"type": "number"},
    "final_feedback": {"type": "string"},
    "parts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["part_id", "points_awarded", "points_possible"],
        "properties": {
          "part_id": {"type": "string", "minLength": 1},
          "points_awarded": {"type": "number"},
          "points_possible": {"type": "number"},
          "notes": {"type": "string"}
        }
      }
    },
    "deductions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["part_id", "points_deducted", "reason"],
        "properties": {
          "part_id": {"type": "string"},
          "points_deducted": {"type": "number"},
          "reason": {"type": "string"},
          "hint": {"type": "string"}
        }
      }
    }
  }
}`

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Validator checks provider responses against the grading contract and
// repairs out-of-range scores.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the grade schema. The schema is a constant, so a
// compile failure is a programming error.
func NewValidator() *Validator {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("grade.json", strings.NewReader(gradeSchema)); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("grade.json")
	if err != nil {
		panic(err)
	}

	return &Validator{schema: schema}
}

// Validate extracts and checks a grading verdict from raw provider output.
// It returns the parsed grade together with any repair warnings. A returned
// *ValidationError is terminal; clamped scores are not.
func (v *Validator) Validate(raw string, rubric Rubric) (Grade, []string, error) {
	doc, ok := ExtractJSON(raw)
	if !ok {
		return Grade{}, nil, &ValidationError{
			Kind:    ValidationMalformedJSON,
			Message: "response contains no parseable JSON object",
		}
	}

	var generic interface{}
	if err := json.Unmarshal(doc, &generic); err != nil {
		return Grade{}, nil, &ValidationError{
			Kind:    ValidationMalformedJSON,
			Message: err.Error(),
		}
	}
	if err := v.schema.Validate(generic); err != nil {
		return Grade{}, nil, &ValidationError{
			Kind:    ValidationMalformedJSON,
			Message: err.Error(),
		}
	}

	var grade Grade
	if err := json.Unmarshal(doc, &grade); err != nil {
		return Grade{}, nil, &ValidationError{
			Kind:    ValidationMalformedJSON,
			Message: err.Error(),
		}
	}

	if missing := missingParts(grade, rubric); len(missing) > 0 {
		return Grade{}, nil, &ValidationError{
			Kind:    ValidationIncompleteRubric,
			Message: fmt.Sprintf("rubric parts not graded: %s", strings.Join(missing, ", ")),
		}
	}

	warnings := clamp(&grade, rubric)

	return grade, warnings, nil
}

// ExtractJSON recovers a JSON object from model output. Direct parse first,
// then fenced code blocks, then the outermost brace pair.
func ExtractJSON(raw string) ([]byte, bool) {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), true
	}

	if m := fencedJSONPattern.FindStringSubmatch(raw); m != nil {
		candidate := []byte(strings.TrimSpace(m[1]))
		if json.Valid(candidate) {
			return candidate, true
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		candidate := bytes.TrimSpace([]byte(raw[start : end+1]))
		if json.Valid(candidate) {
			return candidate, true
		}
	}

	return nil, false
}

func missingParts(grade Grade, rubric Rubric) []string {
	graded := make(map[string]bool, len(grade.Parts))
	for _, part := range grade.Parts {
		graded[part.PartID] = true
	}

	var missing []string
	for _, part := range rubric.Parts {
		if !graded[part.PartID] {
			missing = append(missing, part.PartID)
		}
	}

	return missing
}

// clamp forces awarded points into [0, points_possible] per part, using the
// rubric's possible points as the authority, and recomputes the total when
// any part moved. Each repair yields a warning.
func clamp(grade *Grade, rubric Rubric) []string {
	possible := make(map[string]float64, len(rubric.Parts))
	for _, part := range rubric.Parts {
		possible[part.PartID] = part.PointsPossible
	}

	var warnings []string
	adjusted := false
	for i := range grade.Parts {
		part := &grade.Parts[i]
		max, known := possible[part.PartID]
		if !known {
			max = part.PointsPossible
		}
		if known && part.PointsPossible != max {
			warnings = append(warnings, fmt.Sprintf(
				"part %s reported %s possible points, rubric says %s",
				part.PartID, formatPoints(part.PointsPossible), formatPoints(max)))
			part.PointsPossible = max
			adjusted = true
		}

		if part.PointsAwarded < 0 {
			warnings = append(warnings, fmt.Sprintf(
				"part %s awarded %s, clamped to 0", part.PartID, formatPoints(part.PointsAwarded)))
			part.PointsAwarded = 0
			adjusted = true
		} else if part.PointsAwarded > max {
			warnings = append(warnings, fmt.Sprintf(
				"part %s awarded %s, clamped to %s", part.PartID, formatPoints(part.PointsAwarded), formatPoints(max)))
			part.PointsAwarded = max
			adjusted = true
		}
	}

	var sum float64
	for _, part := range grade.Parts {
		sum += part.PointsAwarded
	}
	if adjusted || grade.TotalPoints != sum {
		if grade.TotalPoints != sum {
			warnings = append(warnings, fmt.Sprintf(
				"total_points %s did not match part sum %s, corrected",
				formatPoints(grade.TotalPoints), formatPoints(sum)))
		}
		grade.TotalPoints = sum
	}

	return warnings
}
