package keyquery

import "testing"

func mustTest(t *testing.T, value any, c Criteria) bool {
	t.Helper()
	ok, err := Test(value, c)
	if err != nil {
		t.Fatalf("Test(%v, %v) error: %v", value, c, err)
	}
	return ok
}

func TestDottedFieldGreaterThan(t *testing.T) {
	value := map[string]any{"a": map[string]any{"b": 42}}
	if !mustTest(t, value, Criteria{"a.b": Criteria{"$gt": 40}}) {
		t.Fatalf("expected a.b > 40 to match")
	}
}

func TestMissingFieldNeverEqualsValue(t *testing.T) {
	value := map[string]any{"a": map[string]any{"b": 42}}
	if !mustTest(t, value, Criteria{"a.c": Criteria{"$ne": 42}}) {
		t.Fatalf("missing field should satisfy $ne 42")
	}
}

func TestLikeWildcards(t *testing.T) {
	if !mustTest(t, "a long string value", Criteria{"$like": "%str%"}) {
		t.Fatalf("expected substring match")
	}
	if !mustTest(t, "prefix-rest", Criteria{"$like": "prefix%"}) {
		t.Fatalf("expected prefix match")
	}
	if !mustTest(t, "rest-suffix", Criteria{"$like": "%suffix"}) {
		t.Fatalf("expected suffix match")
	}
	if _, err := Test("x", Criteria{"$like": "rrr"}); err != ErrLikePatternInvalid {
		t.Fatalf("expected ErrLikePatternInvalid, got %v", err)
	}
}

func TestLogicalOperators(t *testing.T) {
	c := Criteria{"$and": []any{
		Criteria{"$gte": 1},
		Criteria{"$lte": 10},
	}}
	if !mustTest(t, 5, c) {
		t.Fatalf("expected 5 to be within [1,10]")
	}
	if mustTest(t, 11, c) {
		t.Fatalf("expected 11 to fail $and")
	}
}

func TestArrayOperators(t *testing.T) {
	value := map[string]any{"tags": []any{"go", "db", "cache"}}
	if !mustTest(t, value, Criteria{"tags": Criteria{"$any": Criteria{"$eq": "db"}}}) {
		t.Fatalf("expected $any to find 'db'")
	}
	if !mustTest(t, value, Criteria{"tags": Criteria{"$length": 3}}) {
		t.Fatalf("expected bare number $length to mean $eq 3")
	}
	if mustTest(t, value, Criteria{"tags": Criteria{"$all": Criteria{"$eq": "go"}}}) {
		t.Fatalf("not all tags equal 'go'")
	}
}

func TestInNin(t *testing.T) {
	if !mustTest(t, 2, Criteria{"$in": []any{1, 2, 3}}) {
		t.Fatalf("expected 2 in [1,2,3]")
	}
	if !mustTest(t, 9, Criteria{"$nin": []any{1, 2, 3}}) {
		t.Fatalf("expected 9 not in [1,2,3]")
	}
}

func TestNullIsDistinctFromConcreteValue(t *testing.T) {
	value := map[string]any{"a": nil}
	if !mustTest(t, value, Criteria{"a": Criteria{"$eq": nil}}) {
		t.Fatalf("explicit null should equal $eq nil")
	}
	if mustTest(t, value, Criteria{"a": 1}) {
		t.Fatalf("null should not match a concrete value")
	}
}
