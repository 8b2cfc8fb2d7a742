package expr

import "testing"

func TestEval_Comparisons(t *testing.T) {
	env := Env{
		"context": map[string]interface{}{"total": 120.0, "region": "eu"},
		"event":   map[string]interface{}{"name": "pay"},
	}
	cases := []struct {
		expr string
		want bool
	}{
		{`context.total > 100`, true},
		{`context.total > 200`, false},
		{`context.region == "eu"`, true},
		{`context.region != "eu"`, false},
		{`context.total > 100 && context.region == "eu"`, true},
		{`context.total > 100 && context.region == "us"`, false},
		{`context.total > 1000 || context.region == "eu"`, true},
		{`!(context.region == "us")`, true},
	}
	for _, c := range cases {
		got, err := Eval(c.expr, env)
		if err != nil {
			t.Fatalf("Eval(%q): %v", c.expr, err)
		}
		if got != c.want {
			t.Errorf("Eval(%q) = %v, want %v", c.expr, got, c.want)
		}
	}
}

func TestEval_RejectsNonBooleanResult(t *testing.T) {
	if _, err := Eval(`context.total`, Env{"context": map[string]interface{}{"total": 5.0}}); err == nil {
		t.Fatal("expected an error for a non-boolean expression result")
	}
}

func TestLookup_DottedPath(t *testing.T) {
	src := map[string]interface{}{"order": map[string]interface{}{"total": 42.0}}
	v, ok := Lookup(src, "order.total")
	if !ok || v.(float64) != 42.0 {
		t.Fatalf("Lookup(order.total) = %v, %v", v, ok)
	}
	if _, ok := Lookup(src, "order.missing"); ok {
		t.Fatal("expected missing path to not resolve")
	}
}

func TestSubstitute_Template(t *testing.T) {
	source := map[string]interface{}{"orderId": "ORD-1", "total": 9.5}
	tpl := map[string]interface{}{
		"id":  "{{orderId}}",
		"msg": "order {{orderId}} total {{total}}",
	}
	out := Substitute(tpl, source)
	if out["id"] != "ORD-1" {
		t.Fatalf("id = %v", out["id"])
	}
	if out["msg"] != "order ORD-1 total 9.5" {
		t.Fatalf("msg = %v", out["msg"])
	}
}
