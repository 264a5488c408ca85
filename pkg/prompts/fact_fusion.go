// Package prompts builds the oracle prompts and response schemas.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FactFusionTask names the fusion request in logs and in the response schema.
const FactFusionTask = "fact_fusion"

// FactFusionSchema constrains the oracle reply. Every property is required
// so it satisfies OpenAI strict mode.
var FactFusionSchema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["action", "merged_value", "explanation", "confidence"],
  "properties": {
    "action": {"type": "string", "enum": ["CONFIRM", "ENRICH", "SUPERSEDE", "COEXIST", "CONFLICT"]},
    "merged_value": {"type": ["string", "null"]},
    "explanation": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`)

// FactSide describes one of the two values being compared.
type FactSide struct {
	Value      string
	Source     string
	Priority   int
	Confidence *float64
	// RecordedAt is when the existing fact was first recorded. Zero for the new value.
	RecordedAt time.Time
}

// FactFusionInput is everything the fusion prompt shows the oracle.
type FactFusionInput struct {
	FactType  string
	Existing  FactSide
	New       FactSide
	MatchKind string
	// Context is free text from the extraction, e.g. the sentence the new value came from.
	Context string
	Now     time.Time
}

// FactFusionSystemMessage is the fixed instruction block for fusion decisions.
func FactFusionSystemMessage() string {
	return `You reconcile facts in a personal knowledge base. Given an existing fact and a newly extracted value for the same subject, choose exactly one action:

- CONFIRM: the new value restates the existing one.
- ENRICH: the new value adds detail; return the combined value in merged_value.
- SUPERSEDE: the new value replaces the existing one (the fact changed over time, or the old value was wrong).
- COEXIST: both values are true at the same time (e.g. two phone numbers, different periods).
- CONFLICT: the values contradict and you cannot tell which is right.

Prefer higher-priority sources when values disagree. Report a confidence between 0 and 1. When unsure, choose CONFLICT.`
}

// BuildFactFusionPrompt renders the comparison for one existing/new pair.
func BuildFactFusionPrompt(in FactFusionInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Fact type: %s\n\n", in.FactType)

	b.WriteString("## Existing fact\n")
	fmt.Fprintf(&b, "- Value: %q\n", in.Existing.Value)
	writeSource(&b, in.Existing)
	if in.Existing.Confidence != nil {
		fmt.Fprintf(&b, "- Confidence: %.2f\n", *in.Existing.Confidence)
	} else {
		b.WriteString("- Confidence: unknown\n")
	}
	if !in.Existing.RecordedAt.IsZero() {
		now := in.Now
		if now.IsZero() {
			now = time.Now()
		}
		fmt.Fprintf(&b, "- Recorded: %s ago\n", FormatAge(now.Sub(in.Existing.RecordedAt)))
	}

	b.WriteString("\n## New value\n")
	fmt.Fprintf(&b, "- Value: %q\n", in.New.Value)
	writeSource(&b, in.New)

	if in.MatchKind != "" {
		fmt.Fprintf(&b, "\n## Match\nThe values were paired by %s matching.", strings.ReplaceAll(in.MatchKind, "_", " "))
		if in.MatchKind == "temporal_update" {
			b.WriteString(" This fact type usually changes over time.")
		}
		b.WriteString("\n")
	}

	if ctx := strings.TrimSpace(in.Context); ctx != "" {
		fmt.Fprintf(&b, "\n## Context\n%s\n", ctx)
	}

	b.WriteString("\nReturn only the JSON object.")
	return b.String()
}

func writeSource(b *strings.Builder, side FactSide) {
	if side.Source == "" {
		return
	}
	fmt.Fprintf(b, "- Source: %s (priority %d)\n", side.Source, side.Priority)
}

// FormatAge renders a coarse, human-readable duration.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "less than a minute"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour")
	case d < 30*24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day")
	case d < 365*24*time.Hour:
		return plural(int(d/(30*24*time.Hour)), "month")
	}
	return plural(int(d/(365*24*time.Hour)), "year")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
