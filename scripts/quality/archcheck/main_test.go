package main

import "testing"

func TestViolationReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		importer  string
		imported  string
		violation bool
	}{
		{name: "engine uses feed", importer: "ex-feedsync/internal/engine", imported: "ex-feedsync/pkg/feed"},
		{name: "engine uses cache", importer: "ex-feedsync/internal/engine", imported: "ex-feedsync/internal/cache"},
		{name: "engine imports driver", importer: "ex-feedsync/internal/engine", imported: "ex-feedsync/internal/driver/sqlite", violation: true},
		{name: "feed imports internal", importer: "ex-feedsync/pkg/feed", imported: "ex-feedsync/internal/cache", violation: true},
		{name: "driver imports engine", importer: "ex-feedsync/internal/driver/telegram", imported: "ex-feedsync/internal/engine", violation: true},
		{name: "media imports driver", importer: "ex-feedsync/internal/media", imported: "ex-feedsync/internal/driver", violation: true},
		{name: "cache imports engine", importer: "ex-feedsync/internal/cache", imported: "ex-feedsync/internal/engine", violation: true},
		{name: "daemon wires everything", importer: "ex-feedsync/cmd/feedd", imported: "ex-feedsync/internal/driver"},
		{name: "third party", importer: "ex-feedsync/internal/engine", imported: "golang.org/x/sync/singleflight"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			reason := violationReason(testCase.importer, testCase.imported)
			if got := reason != ""; got != testCase.violation {
				t.Fatalf("violation = %t (%q), want %t", got, reason, testCase.violation)
			}
		})
	}
}

func TestCollectViolationsDeduplicatesAndSorts(t *testing.T) {
	t.Parallel()

	violations := collectViolations([]listedPackage{
		{
			ImportPath:  "ex-feedsync/internal/media",
			Imports:     []string{"ex-feedsync/internal/engine"},
			TestImports: []string{"ex-feedsync/internal/engine"},
		},
		{
			ImportPath: "ex-feedsync/internal/engine",
			Imports:    []string{"ex-feedsync/internal/driver"},
		},
	})
	if len(violations) != 2 {
		t.Fatalf("violations = %v, want 2 entries", violations)
	}
	if violations[0] > violations[1] {
		t.Fatalf("violations not sorted: %v", violations)
	}
}
