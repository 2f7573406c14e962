package operation

import "testing"

func TestFingerprintVariableOrderIrrelevant(t *testing.T) {
	query := Normalize(`query Posts($first: Int, $after: String) { posts(first: $first, after: $after) { id } }`)

	a := map[string]interface{}{
		"first": 10,
		"after": "cursor-1",
		"filter": map[string]interface{}{
			"author": "ada",
			"status": "published",
		},
	}
	b := map[string]interface{}{
		"filter": map[string]interface{}{
			"status": "published",
			"author": "ada",
		},
		"after": "cursor-1",
		"first": 10,
	}

	fa, err := Fingerprint(query, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fb, err := Fingerprint(query, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fa != fb {
		t.Errorf("expected equal fingerprints, got %q and %q", fa, fb)
	}
}

func TestFingerprintValueSensitivity(t *testing.T) {
	query := Normalize(`{ posts(first: $first) { id } }`)
	base := map[string]interface{}{"first": 10, "tag": "go"}

	variants := []map[string]interface{}{
		{"first": 11, "tag": "go"},
		{"first": 10, "tag": "rust"},
		{"first": 10},
		{"first": 10, "tag": "go", "extra": true},
		{"first": "10", "tag": "go"},
		nil,
	}

	ref, err := Fingerprint(query, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, vars := range variants {
		got, err := Fingerprint(query, vars)
		if err != nil {
			t.Fatalf("variant %d: unexpected error: %v", i, err)
		}
		if got == ref {
			t.Errorf("variant %d: expected different fingerprint for %v", i, vars)
		}
	}
}

func TestFingerprintQuerySensitivity(t *testing.T) {
	vars := map[string]interface{}{"id": "1"}

	a, err := Fingerprint(Normalize(`{ post(id: $id) { title } }`), vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Fingerprint(Normalize(`{ post(id: $id) { body } }`), vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Error("expected different fingerprints for different queries")
	}
}

func TestFingerprintIgnoresPolicyAndTags(t *testing.T) {
	vars := map[string]interface{}{"id": "1"}
	query := `{ post(id: $id) { title } }`

	plain, err := New(TypeQuery, query, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decorated, err := New(TypeQuery, query, vars,
		WithCachePolicy(NetworkOnly), WithTags("posts"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plain.Key != decorated.Key {
		t.Errorf("policy/tags must not affect identity: %q vs %q", plain.Key, decorated.Key)
	}
}

func TestFingerprintNormalizationEquivalence(t *testing.T) {
	vars := map[string]interface{}{"id": "1"}

	a, err := New(TypeQuery, "{\n  post(id: $id) {\n    title\n  }\n}", vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := New(TypeQuery, "{ post(id: $id) { title } }", vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Key != b.Key {
		t.Errorf("whitespace variants must share a key: %q vs %q", a.Key, b.Key)
	}
}

func TestFingerprintArrayOrderSignificant(t *testing.T) {
	query := Normalize(`{ posts(ids: $ids) { id } }`)

	a, err := Fingerprint(query, map[string]interface{}{"ids": []interface{}{"1", "2"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Fingerprint(query, map[string]interface{}{"ids": []interface{}{"2", "1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Error("array element order must be significant")
	}
}
