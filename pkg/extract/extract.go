// Package extract pulls structured answers out of model output. Models
// are asked for JSON but deliver prose, fenced blocks, and truncated
// fragments; extraction degrades through a ladder of progressively more
// forgiving parses instead of failing.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
)

// Method identifies which rung of the ladder produced a result.
type Method string

const (
	MethodStrict   Method = "strict"
	MethodField    Method = "field"
	MethodFenced   Method = "fenced"
	MethodRepaired Method = "repaired"
	MethodRaw      Method = "raw"
)

// Result is one extracted answer plus how it was obtained.
type Result struct {
	Answer string
	Method Method
}

// Answer extracts an answer string from raw model output. It tries, in
// order: strict JSON with an "answer" field, a gjson field lookup over
// malformed-but-close JSON, a fenced code block, repaired JSON, and
// finally the trimmed raw text. It never fails; the raw rung always
// produces something.
func Answer(raw string) Result {
	trimmed := strings.TrimSpace(raw)

	var strict struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(trimmed), &strict); err == nil && strict.Answer != "" {
		return Result{Answer: strict.Answer, Method: MethodStrict}
	}

	if field := gjson.Get(trimmed, "answer"); field.Exists() && field.String() != "" {
		return Result{Answer: field.String(), Method: MethodField}
	}

	if block, ok := fencedBlock(trimmed); ok {
		if err := json.Unmarshal([]byte(block), &strict); err == nil && strict.Answer != "" {
			return Result{Answer: strict.Answer, Method: MethodFenced}
		}
		if field := gjson.Get(block, "answer"); field.Exists() && field.String() != "" {
			return Result{Answer: field.String(), Method: MethodFenced}
		}
	}

	if repaired, err := jsonrepair.JSONRepair(trimmed); err == nil {
		if err := json.Unmarshal([]byte(repaired), &strict); err == nil && strict.Answer != "" {
			return Result{Answer: strict.Answer, Method: MethodRepaired}
		}
	}

	return Result{Answer: trimmed, Method: MethodRaw}
}

// JSON unmarshals raw model output into v, trying strict JSON, then a
// fenced block, then repaired JSON. Unlike Answer it can fail: callers
// that need structure get an error instead of raw text.
func JSON(raw string, v any) (Method, error) {
	trimmed := strings.TrimSpace(raw)

	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return MethodStrict, nil
	}

	if block, ok := fencedBlock(trimmed); ok {
		if err := json.Unmarshal([]byte(block), v); err == nil {
			return MethodFenced, nil
		}
	}

	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err == nil {
		if err := json.Unmarshal([]byte(repaired), v); err == nil {
			return MethodRepaired, nil
		}
	}

	return "", fmt.Errorf("output is not valid JSON after repair")
}

// Normalize canonicalizes an answer for voting: whitespace trimmed,
// case folded, trailing sentence punctuation dropped.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	s = strings.TrimRight(s, ".!")
	return strings.TrimSpace(s)
}

// fencedBlock returns the contents of the first fenced code block,
// tolerating a language tag after the opening fence.
func fencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "yaml", or empty).
		firstLine := strings.TrimSpace(rest[:nl])
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, "{[") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}
