package operation

import (
	"errors"
	"strings"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	op, err := New(TypeQuery, `{ posts { id } }`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.Key == "" {
		t.Error("expected a fingerprint key")
	}
	if op.CachePolicy != "" {
		t.Errorf("expected empty policy before resolution, got %q", op.CachePolicy)
	}
	if got := op.EffectivePolicy(); got != CacheFirst {
		t.Errorf("expected cache-first for queries, got %q", got)
	}
	if len(op.Tags) != 0 {
		t.Errorf("expected no tags, got %v", op.Tags)
	}
}

func TestEffectivePolicyForcesNetworkOnly(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		opts []Option
		want CachePolicy
	}{
		{"mutation ignores configured policy", TypeMutation, []Option{WithCachePolicy(CacheFirst)}, NetworkOnly},
		{"subscription ignores configured policy", TypeSubscription, []Option{WithCachePolicy(CacheOnly)}, NetworkOnly},
		{"query keeps configured policy", TypeQuery, []Option{WithCachePolicy(CacheAndNetwork)}, CacheAndNetwork},
		{"query defaults to cache-first", TypeQuery, nil, CacheFirst},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := New(tt.typ, `{ posts }`, nil, tt.opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := op.EffectivePolicy(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		query   string
		wantErr error
	}{
		{"empty query", TypeQuery, "", ErrEmptyQuery},
		{"whitespace only", TypeQuery, "  \n\t ", ErrEmptyQuery},
		{"comment only", TypeQuery, "# just a comment", ErrEmptyQuery},
		{"missing selection set", TypeQuery, "query Foo", ErrInvalidQuery},
		{"unbalanced braces", TypeQuery, "{ posts { id }", ErrInvalidQuery},
		{"closing before opening", TypeQuery, "} posts {", ErrInvalidQuery},
		{"bad type", Type("fetch"), "{ posts }", ErrInvalidType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.typ, tt.query, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewAcceptsBracesInStringLiterals(t *testing.T) {
	queries := []string{
		`{ post(title: "}") { id } }`,
		`{ post(title: "{") { id } }`,
		`{ post(title: "a \" }") { id } }`,
	}

	for _, q := range queries {
		if _, err := New(TypeQuery, q, nil); err != nil {
			t.Errorf("expected %q to be valid, got %v", q, err)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"collapses whitespace",
			"query  {\n\tposts   { id }\n}",
			"query { posts { id } }",
		},
		{
			"strips comments",
			"{\n  # fetch posts\n  posts { id }\n}",
			"{ posts { id } }",
		},
		{
			"preserves string literals",
			`{ posts(filter: "a  b # c") { id } }`,
			`{ posts(filter: "a  b # c") { id } }`,
		},
		{
			"preserves strings with escaped quotes",
			`{ posts(filter: "a \" b  c") { id } }`,
			`{ posts(filter: "a \" b  c") { id } }`,
		},
		{
			"comment marker after escaped quote stays literal",
			`{ posts(filter: "x\"# y") { id } }`,
			`{ posts(filter: "x\"# y") { id } }`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	for _, valid := range []string{"cache-first", "network-only", "cache-and-network", "cache-only"} {
		if _, err := ParsePolicy(valid); err != nil {
			t.Errorf("expected %q to parse, got %v", valid, err)
		}
	}
	if _, err := ParsePolicy("cache-last"); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestTagsAccumulate(t *testing.T) {
	op, err := New(TypeQuery, `{ posts }`, nil, WithTags("posts"), WithTags("feed", "home"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(op.Tags, ","); got != "posts,feed,home" {
		t.Errorf("unexpected tags: %v", op.Tags)
	}
}
