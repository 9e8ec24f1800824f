package cmd

import (
	"strings"
	"testing"

	"github.com/zibuild/zibuild/internal/recipe"
)

func TestDescribeFormatsNameVersionLicensesDescription(t *testing.T) {
	r := &recipe.Recipe{
		Name:        "foo",
		Version:     "1.2.3",
		Licenses:    []string{"MIT", "Apache-2.0"},
		Description: "a test package",
	}
	got := describe(r)
	if !strings.HasPrefix(got, `foo 1.2.3 ["MIT" "Apache-2.0"]`) {
		t.Errorf("unexpected header line: %q", got)
	}
	if !strings.HasSuffix(got, "a test package") {
		t.Errorf("expected description on its own line, got %q", got)
	}
}
