// Package validation contains the pure rule-evaluation logic: comparing a
// scalar query result against a rule's operator and expected value.
package validation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/verity-dq/verity/internal/domain/model"
)

// Outcome is the result of evaluating one rule against an actual value.
type Outcome struct {
	IsValid bool
	// Reason is populated when the outcome is invalid for a structural
	// reason (missing value, malformed expectation) rather than a plain
	// comparison failure.
	Reason string
}

// Evaluate applies a rule's operator to the actual scalar value.
// A missing actual value is always invalid.
func Evaluate(operator model.RuleOperator, expected json.RawMessage, actual any) Outcome {
	if actual == nil {
		return Outcome{IsValid: false, Reason: "no value returned"}
	}

	switch operator {
	case model.OperatorEquals:
		return evaluateEquals(expected, actual)
	case model.OperatorGreaterThan:
		return evaluateOrdered(expected, actual, func(a, e float64) bool { return a > e })
	case model.OperatorLessThan:
		return evaluateOrdered(expected, actual, func(a, e float64) bool { return a < e })
	case model.OperatorBetween:
		return evaluateBetween(expected, actual)
	default:
		return Outcome{IsValid: false, Reason: fmt.Sprintf("unknown operator %q", operator)}
	}
}

// evaluateEquals compares numerically when both sides parse as numbers,
// otherwise by string equality.
func evaluateEquals(expected json.RawMessage, actual any) Outcome {
	expStr := decodeExpectedString(expected)
	actStr := scalarString(actual)

	expNum, expOK := toFloat(expStr)
	actNum, actOK := toFloat(actual)
	if expOK && actOK {
		return Outcome{IsValid: expNum == actNum}
	}
	return Outcome{IsValid: expStr == actStr}
}

func evaluateOrdered(expected json.RawMessage, actual any, cmp func(actual, expected float64) bool) Outcome {
	expNum, ok := toFloat(decodeExpectedString(expected))
	if !ok {
		return Outcome{IsValid: false, Reason: "expected value is not numeric"}
	}
	actNum, ok := toFloat(actual)
	if !ok {
		return Outcome{IsValid: false, Reason: "actual value is not numeric"}
	}
	return Outcome{IsValid: cmp(actNum, expNum)}
}

// evaluateBetween expects [min, max] and checks min <= actual <= max
// inclusively.
func evaluateBetween(expected json.RawMessage, actual any) Outcome {
	var bounds []json.Number
	dec := json.NewDecoder(strings.NewReader(string(expected)))
	dec.UseNumber()
	if err := dec.Decode(&bounds); err != nil || len(bounds) != 2 {
		return Outcome{IsValid: false, Reason: "expected value must be [min, max]"}
	}

	minVal, err1 := bounds[0].Float64()
	maxVal, err2 := bounds[1].Float64()
	if err1 != nil || err2 != nil {
		return Outcome{IsValid: false, Reason: "expected bounds are not numeric"}
	}

	actNum, ok := toFloat(actual)
	if !ok {
		return Outcome{IsValid: false, Reason: "actual value is not numeric"}
	}
	return Outcome{IsValid: actNum >= minVal && actNum <= maxVal}
}

// decodeExpectedString unwraps a JSON scalar into its string form, so both
// `"5"` and `5` compare the same way.
func decodeExpectedString(expected json.RawMessage) string {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(expected)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return strings.TrimSpace(string(expected))
	}
	return scalarString(v)
}

// scalarString renders a driver scalar as a comparable string.
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// toFloat attempts to coerce a scalar into a float64.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Schema-drift phrases surfaced by target databases when a rule references
// objects that no longer exist.
var driftPhrases = []string{
	"column not found",
	"table not found",
	"does not exist",
}

// IsSchemaDriftError reports whether a query error message hints that the
// underlying schema drifted away from the rule.
func IsSchemaDriftError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range driftPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
