package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/gobwas/glob"
)

type (
	patternTest struct {
		Pattern, Match string
		ShouldMatch    bool
	}
)

func TestGlobMatch(t *testing.T) {
	var g glob.Glob
	patterns := []patternTest{
		{
			Match:       "/_next/static/chunks/main.js",
			Pattern:     "/_next/static/*",
			ShouldMatch: false,
		},
		{
			Match:       "/_next/static/chunks/main.js",
			Pattern:     "/_next/static/**",
			ShouldMatch: true,
		},
		{
			Match:       "/_next/image",
			Pattern:     "/_next/*",
			ShouldMatch: true,
		},
		{
			Match:       "/blog/2024/post",
			Pattern:     "/blog/*/post",
			ShouldMatch: true,
		},
		{
			Match:       "/blog/2024/01/post",
			Pattern:     "/blog/*/post",
			ShouldMatch: false,
		},
		{
			Match:       "/blog/2024/01/post",
			Pattern:     "/blog/**/post",
			ShouldMatch: true,
		},
		{
			Match:       "/favicon.ico",
			Pattern:     "/*.{ico,png}",
			ShouldMatch: true,
		},
	}

	for _, pattern := range patterns {
		g = glob.MustCompile(pattern.Pattern, globSeparators...)
		matched := g.Match(pattern.Match)
		if matched != pattern.ShouldMatch {
			t.Fatalf("Patern %s == %s = %v expected = %v", pattern.Pattern, pattern.Match, matched, pattern.ShouldMatch)
		}
	}
}

func TestTableMatchInOrder(t *testing.T) {
	table, err := Compile([]Rule{
		{Pattern: "/docs/old/**", Rewrite: "/docs"},
		{Pattern: "/docs/**"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rule, ok := table.Match(context.Background(), "/docs/old/page")
	if !ok || rule.Rewrite != "/docs" {
		t.Fatalf("expected rewrite rule, got %+v %v", rule, ok)
	}

	rule, ok = table.Match(context.Background(), "/docs/new")
	if !ok || rule.Rewrite != "" || rule.Pattern != "/docs/**" {
		t.Fatalf("expected passthrough rule, got %+v %v", rule, ok)
	}

	if _, ok := table.Match(context.Background(), "/api/docs"); ok {
		t.Fatal("unexpected match")
	}

	var empty *Table
	if _, ok := empty.Match(context.Background(), "/docs"); ok {
		t.Fatal("nil table matched")
	}
}

func TestCompileRejectsBadRules(t *testing.T) {
	if _, err := Compile([]Rule{{}}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	if _, err := Compile([]Rule{{Pattern: "/[a"}}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}
