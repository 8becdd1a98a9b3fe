package services

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Condition describes a single predicate against the event context.
// Field is a dot-separated path into nested maps.
type Condition struct {
	Field string      `json:"field"`
	Op    string      `json:"op"`
	Value interface{} `json:"value"`
}

// missingValue distinguishes "field absent" from "field present and nil".
type missingValue struct{}

var missing = missingValue{}

// EvaluateConditions returns true when every condition matches. An empty
// list always matches. Pure: no I/O, no mutation of its inputs.
func EvaluateConditions(conds []Condition, ctx map[string]interface{}) bool {
	for _, cond := range conds {
		if !evaluateCondition(cond, ctx) {
			return false
		}
	}
	return true
}

func evaluateCondition(cond Condition, ctx map[string]interface{}) bool {
	actual := lookupField(ctx, cond.Field)

	switch cond.Op {
	case "exists":
		return actual != missing
	case "not_exists":
		return actual == missing
	}

	// Every remaining operator fails on a missing field.
	if actual == missing {
		return false
	}

	switch cond.Op {
	case "eq":
		return looseEquals(actual, cond.Value)
	case "neq":
		return !looseEquals(actual, cond.Value)
	case "in":
		list, ok := cond.Value.([]interface{})
		if !ok {
			return false
		}
		return containsMember(list, actual)
	case "not_in":
		list, ok := cond.Value.([]interface{})
		if !ok {
			return true
		}
		return !containsMember(list, actual)
	case "contains":
		return containsValue(actual, cond.Value)
	case "gt", "lt", "gte", "lte":
		a, aok := toFloat(actual)
		b, bok := toFloat(cond.Value)
		if !aok || !bok {
			return false
		}
		switch cond.Op {
		case "gt":
			return a > b
		case "lt":
			return a < b
		case "gte":
			return a >= b
		default:
			return a <= b
		}
	default:
		// Fail closed on operators we do not know.
		logrus.Warnf("automation: unknown condition operator %q", cond.Op)
		return false
	}
}

// lookupField walks a dot-separated path through nested maps. A missing
// key or a non-map intermediate yields the missing sentinel.
func lookupField(ctx map[string]interface{}, path string) interface{} {
	var current interface{} = ctx
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return missing
		}
		current, ok = m[part]
		if !ok {
			return missing
		}
	}
	return current
}

// looseEquals matches structurally equal values, then falls back to
// numeric coercion so that "10" == 10 == 10.0. Coercion failure means
// no match.
func looseEquals(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func containsMember(list []interface{}, v interface{}) bool {
	for _, item := range list {
		if looseEquals(item, v) {
			return true
		}
	}
	return false
}

// containsValue handles string-in-string and member-in-sequence.
// Unsupported combinations do not match.
func containsValue(actual, expected interface{}) bool {
	switch av := actual.(type) {
	case string:
		es, ok := expected.(string)
		return ok && strings.Contains(av, es)
	case []interface{}:
		return containsMember(av, expected)
	case []string:
		for _, item := range av {
			if looseEquals(item, expected) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// toFloat coerces the numeric kinds that show up after JSON decoding,
// plus numeric strings.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
