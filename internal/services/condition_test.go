package services

import "testing"

func TestEvaluateConditions_EmptyAlwaysMatches(t *testing.T) {
	contexts := []map[string]interface{}{
		nil,
		{},
		{"status": "open"},
	}
	for _, ctx := range contexts {
		if !EvaluateConditions(nil, ctx) {
			t.Errorf("empty conditions should match context %v", ctx)
		}
		if !EvaluateConditions([]Condition{}, ctx) {
			t.Errorf("empty condition slice should match context %v", ctx)
		}
	}
}

func TestEvaluateConditions_IsPure(t *testing.T) {
	conds := []Condition{{Field: "payload.priority", Op: "eq", Value: "high"}}
	ctx := map[string]interface{}{
		"payload": map[string]interface{}{"priority": "high"},
	}
	first := EvaluateConditions(conds, ctx)
	second := EvaluateConditions(conds, ctx)
	if first != second || !first {
		t.Errorf("expected stable true result, got %v then %v", first, second)
	}
	if ctx["payload"].(map[string]interface{})["priority"] != "high" {
		t.Error("evaluation must not mutate the context")
	}
}

func TestEvaluateCondition(t *testing.T) {
	ctx := map[string]interface{}{
		"event_type": "ticket_created",
		"ticket_id":  uint(7),
		"payload": map[string]interface{}{
			"priority": "high",
			"score":    "10",
			"count":    float64(3),
			"empty":    nil,
			"labels":   []interface{}{"vip", "billing"},
			"nested":   map[string]interface{}{"deep": "yes"},
		},
	}

	tests := []struct {
		name     string
		cond     Condition
		expected bool
	}{
		{"eq string match", Condition{Field: "payload.priority", Op: "eq", Value: "high"}, true},
		{"eq string mismatch", Condition{Field: "payload.priority", Op: "eq", Value: "low"}, false},
		{"eq numeric coercion string vs int", Condition{Field: "payload.score", Op: "eq", Value: 10}, true},
		{"eq numeric coercion float vs int", Condition{Field: "payload.count", Op: "eq", Value: 3}, true},
		{"eq coercion failure", Condition{Field: "payload.priority", Op: "eq", Value: 10}, false},
		{"eq missing field", Condition{Field: "payload.nope", Op: "eq", Value: "x"}, false},
		{"eq present-and-nil is not missing", Condition{Field: "payload.empty", Op: "eq", Value: nil}, true},
		{"neq mismatch", Condition{Field: "payload.priority", Op: "neq", Value: "low"}, true},
		{"neq match", Condition{Field: "payload.priority", Op: "neq", Value: "high"}, false},
		{"neq missing field", Condition{Field: "payload.nope", Op: "neq", Value: "x"}, false},
		{"exists hit", Condition{Field: "payload.priority", Op: "exists"}, true},
		{"exists nil value still exists", Condition{Field: "payload.empty", Op: "exists"}, true},
		{"exists miss", Condition{Field: "payload.nope", Op: "exists"}, false},
		{"not_exists miss", Condition{Field: "payload.nope", Op: "not_exists"}, true},
		{"not_exists hit", Condition{Field: "payload.priority", Op: "not_exists"}, false},
		{"dot path through nested map", Condition{Field: "payload.nested.deep", Op: "eq", Value: "yes"}, true},
		{"dot path through non-map", Condition{Field: "payload.priority.deep", Op: "eq", Value: "x"}, false},
		{"in hit", Condition{Field: "payload.priority", Op: "in", Value: []interface{}{"high", "urgent"}}, true},
		{"in miss", Condition{Field: "payload.priority", Op: "in", Value: []interface{}{"low"}}, false},
		{"in non-list value", Condition{Field: "payload.priority", Op: "in", Value: "high"}, false},
		{"in numeric coercion", Condition{Field: "payload.score", Op: "in", Value: []interface{}{float64(10)}}, true},
		{"not_in miss", Condition{Field: "payload.priority", Op: "not_in", Value: []interface{}{"low"}}, true},
		{"not_in hit", Condition{Field: "payload.priority", Op: "not_in", Value: []interface{}{"high"}}, false},
		{"not_in non-list value", Condition{Field: "payload.priority", Op: "not_in", Value: 42}, true},
		{"contains string in string", Condition{Field: "payload.priority", Op: "contains", Value: "hig"}, true},
		{"contains member in list", Condition{Field: "payload.labels", Op: "contains", Value: "vip"}, true},
		{"contains member miss", Condition{Field: "payload.labels", Op: "contains", Value: "sales"}, false},
		{"contains unsupported types", Condition{Field: "payload.count", Op: "contains", Value: "3"}, false},
		{"gt string field numeric", Condition{Field: "payload.score", Op: "gt", Value: 5}, true},
		{"gt non-numeric field", Condition{Field: "payload.priority", Op: "gt", Value: 5}, false},
		{"gt non-numeric expected", Condition{Field: "payload.score", Op: "gt", Value: "abc"}, false},
		{"gt missing field", Condition{Field: "payload.nope", Op: "gt", Value: 1}, false},
		{"lt", Condition{Field: "payload.count", Op: "lt", Value: 4}, true},
		{"gte equal", Condition{Field: "payload.score", Op: "gte", Value: "10"}, true},
		{"lte equal", Condition{Field: "payload.count", Op: "lte", Value: 3}, true},
		{"unknown operator fails closed", Condition{Field: "payload.priority", Op: "matches", Value: "h.*"}, false},
		{"top-level field", Condition{Field: "event_type", Op: "eq", Value: "ticket_created"}, true},
		{"correlation id coercion", Condition{Field: "ticket_id", Op: "eq", Value: float64(7)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluateCondition(tt.cond, ctx); got != tt.expected {
				t.Errorf("evaluateCondition(%+v) = %v, expected %v", tt.cond, got, tt.expected)
			}
		})
	}
}

func TestEvaluateConditions_AllMustMatch(t *testing.T) {
	ctx := map[string]interface{}{
		"event_type": "ticket_created",
		"payload":    map[string]interface{}{"priority": "high", "source": "web"},
	}
	both := []Condition{
		{Field: "payload.priority", Op: "eq", Value: "high"},
		{Field: "payload.source", Op: "eq", Value: "web"},
	}
	if !EvaluateConditions(both, ctx) {
		t.Error("expected both conditions to match")
	}
	oneOff := []Condition{
		{Field: "payload.priority", Op: "eq", Value: "high"},
		{Field: "payload.source", Op: "eq", Value: "email"},
	}
	if EvaluateConditions(oneOff, ctx) {
		t.Error("expected AND semantics to reject a single mismatch")
	}
}
