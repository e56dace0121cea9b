package grading

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RubricPart is a single gradeable unit of an assignment rubric.
type RubricPart struct {
	PartID         string  `json:"part_id"`
	Description    string  `json:"description,omitempty"`
	PointsPossible float64 `json:"points_possible"`
}

// Rubric is the structured grading rubric stored on a guide version.
type Rubric struct {
	Parts []RubricPart `json:"parts"`
}

// ParseRubric decodes a rubric document from its stored JSON form.
func ParseRubric(raw []byte) (Rubric, error) {
	var rubric Rubric
	if err := json.Unmarshal(raw, &rubric); err != nil {
		return Rubric{}, fmt.Errorf("decode rubric: %w", err)
	}
	if len(rubric.Parts) == 0 {
		return Rubric{}, fmt.Errorf("rubric has no parts")
	}

	return rubric, nil
}

// TotalPossible sums the achievable points across all rubric parts.
func (r Rubric) TotalPossible() float64 {
	var total float64
	for _, part := range r.Parts {
		total += part.PointsPossible
	}

	return total
}

// PartIDs returns the rubric's part identifiers in declaration order.
func (r Rubric) PartIDs() []string {
	ids := make([]string, 0, len(r.Parts))
	for _, part := range r.Parts {
		ids = append(ids, part.PartID)
	}

	return ids
}

// PartGrade is the model's verdict for one rubric part.
type PartGrade struct {
	PartID         string  `json:"part_id"`
	PointsAwarded  float64 `json:"points_awarded"`
	PointsPossible float64 `json:"points_possible"`
	Notes          string  `json:"notes,omitempty"`
}

// Deduction records points removed from a part together with the reason.
type Deduction struct {
	PartID         string  `json:"part_id"`
	PointsDeducted float64 `json:"points_deducted"`
	Reason         string  `json:"reason"`
	Hint           string  `json:"hint,omitempty"`
}

// Grade is the structured grading verdict the provider must return.
type Grade struct {
	TotalPoints   float64     `json:"total_points"`
	Parts         []PartGrade `json:"parts"`
	Deductions    []Deduction `json:"deductions,omitempty"`
	FinalFeedback string      `json:"final_feedback,omitempty"`
}

// RenderText produces the human-readable feedback block shown alongside the
// structured grade.
func (g Grade) RenderText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Total: %s points\n", formatPoints(g.TotalPoints))

	for _, part := range g.Parts {
		fmt.Fprintf(&b, "\n%s: %s / %s\n", part.PartID, formatPoints(part.PointsAwarded), formatPoints(part.PointsPossible))
		if part.Notes != "" {
			fmt.Fprintf(&b, "  %s\n", part.Notes)
		}
	}

	if len(g.Deductions) > 0 {
		b.WriteString("\nDeductions:\n")
		deductions := make([]Deduction, len(g.Deductions))
		copy(deductions, g.Deductions)
		sort.SliceStable(deductions, func(i, j int) bool {
			return deductions[i].PartID < deductions[j].PartID
		})
		for _, d := range deductions {
			fmt.Fprintf(&b, "  -%s on %s: %s\n", formatPoints(d.PointsDeducted), d.PartID, d.Reason)
			if d.Hint != "" {
				fmt.Fprintf(&b, "    Hint: %s\n", d.Hint)
			}
		}
	}

	if g.FinalFeedback != "" {
		fmt.Fprintf(&b, "\n%s\n", g.FinalFeedback)
	}

	return b.String()
}

func formatPoints(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}

	return s
}
