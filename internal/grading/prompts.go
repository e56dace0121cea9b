package grading

import (
	"encoding/json"
	"fmt"
	"strings"
)

const gradingSystemPrompt = `You are a strict, consistent grader for student assignments.
Grade only against the rubric you are given. Award partial credit where the rubric allows it.
Respond with a single JSON object and nothing else, using exactly this shape:
{
  "total_points": <number>,
  "parts": [
    {"part_id": "<id>", "points_awarded": <number>, "points_possible": <number>, "notes": "<short justification>"}
  ],
  "deductions": [
    {"part_id": "<id>", "points_deducted": <number>, "reason": "<what went wrong>", "hint": "<how to fix it>"}
  ],
  "final_feedback": "<two or three sentences for the student>"
}
Every rubric part must appear in "parts". total_points must equal the sum of points_awarded.`

const guideSystemPrompt = `You are an experienced instructor writing a grading guide.
Given an assignment, produce a rubric that splits the work into parts with point values,
plus a reference solution. Respond with a single JSON object and nothing else:
{
  "parts": [
    {"part_id": "<short id>", "description": "<what this part checks>", "points_possible": <number>}
  ],
  "reference_solution": "<a complete correct solution>"
}`

const assignmentSystemPrompt = `You are an experienced instructor writing an assignment for students.
Given a short brief, produce a complete assignment students can work on independently.
Respond with a single JSON object and nothing else:
{
  "title": "<a short descriptive title>",
  "assignment_text": "<the full assignment text, including any data or constraints students need>"
}`

// GradingSystemPrompt is the system message for grading calls.
func GradingSystemPrompt() string {
	return gradingSystemPrompt
}

// GuideSystemPrompt is the system message for guide-drafting calls.
func GuideSystemPrompt() string {
	return guideSystemPrompt
}

// AssignmentSystemPrompt is the system message for assignment-drafting calls.
func AssignmentSystemPrompt() string {
	return assignmentSystemPrompt
}

// BuildGradingPrompt assembles the deterministic user message for one
// grading attempt. Identical inputs always produce an identical prompt.
func BuildGradingPrompt(assignmentText string, rubric Rubric, referenceSolution, submittedText string) string {
	var b strings.Builder

	b.WriteString("## Assignment\n")
	b.WriteString(strings.TrimSpace(assignmentText))
	b.WriteString("\n\n## Rubric\n")

	rubricJSON, err := json.MarshalIndent(rubric, "", "  ")
	if err != nil {
		rubricJSON = []byte("{}")
	}
	b.Write(rubricJSON)
	fmt.Fprintf(&b, "\nTotal achievable points: %s\n", formatPoints(rubric.TotalPossible()))

	if strings.TrimSpace(referenceSolution) != "" {
		b.WriteString("\n## Reference solution\n")
		b.WriteString(strings.TrimSpace(referenceSolution))
		b.WriteString("\n")
	}

	b.WriteString("\n## Student submission\n")
	if strings.TrimSpace(submittedText) == "" {
		b.WriteString("(the submission is attached as images)\n")
	} else {
		b.WriteString(strings.TrimSpace(submittedText))
		b.WriteString("\n")
	}

	b.WriteString("\nGrade the submission against the rubric now.")

	return b.String()
}

// BuildGuidePrompt assembles the user message for drafting a guide from an
// assignment description.
func BuildGuidePrompt(assignmentText string) string {
	var b strings.Builder

	b.WriteString("## Assignment\n")
	b.WriteString(strings.TrimSpace(assignmentText))
	b.WriteString("\n\nWrite the rubric and reference solution for this assignment now.")

	return b.String()
}

// BuildAssignmentPrompt assembles the user message for drafting an
// assignment from an operator brief.
func BuildAssignmentPrompt(brief string) string {
	var b strings.Builder

	b.WriteString("## Brief\n")
	b.WriteString(strings.TrimSpace(brief))
	b.WriteString("\n\nWrite the full assignment now.")

	return b.String()
}
