package pipeline

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	stages := c.Stages()
	if len(stages) != 7 {
		t.Fatalf("expected 7 stages, got %d", len(stages))
	}

	titles := []string{
		"Understand the Problem",
		"Research & Gather Information",
		"Generate Possible Solutions",
		"Select the Best Solution",
		"Plan Implementation",
		"Testing & Verification",
		"Reflection & Optimization",
	}
	for i, d := range stages {
		if d.Stage != i+1 || d.Title != titles[i] {
			t.Fatalf("stage %d = %d %q", i+1, d.Stage, d.Title)
		}
	}

	if d, _ := c.Stage(3); len(d.DependsOn) != 2 {
		t.Fatalf("stage 3 should depend on stages 1 and 2, got %v", d.DependsOn)
	}
}

func TestCatalog_Render(t *testing.T) {
	c := DefaultCatalog()

	got, err := c.Render(3, map[string]string{"preferences": "  cheap  "}, map[int]string{1: "slow site", 2: "users on mobile"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"Problem summary: slow site", "Assumptions: users on mobile", "Preferences: cheap"} {
		if !strings.Contains(got, want) {
			t.Fatalf("rendered prompt misses %q:\n%s", want, got)
		}
	}

	got, err = c.Render(1, nil, nil)
	if err != nil {
		t.Fatalf("Render() without inputs error = %v", err)
	}
	if !strings.Contains(got, "Problem: \n") {
		t.Fatalf("missing input should render empty:\n%s", got)
	}

	if _, err := c.Render(1, map[string]string{"budget": "1000"}, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParseCatalog(t *testing.T) {
	doc := []byte(`
stages:
  - stage: 2
    title: Research
    inputs: [user_data, budget]
    template: "Budget {{.budget}} for {{.stage1_output}}"
`)
	c, err := ParseCatalog(doc)
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}

	d, _ := c.Stage(2)
	if d.Title != "Research" || len(d.DependsOn) != 1 {
		t.Fatalf("unexpected override: %+v", d)
	}
	got, err := c.Render(2, map[string]string{"budget": "1000"}, map[int]string{1: "site"})
	if err != nil || got != "Budget 1000 for site" {
		t.Fatalf("Render() = %q, %v", got, err)
	}

	if d, _ := c.Stage(1); d.Title != "Understand the Problem" {
		t.Fatalf("stage 1 should keep its default, got %q", d.Title)
	}
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "stage out of range", doc: "stages:\n  - stage: 8\n    title: Extra\n"},
		{name: "forward dependency", doc: "stages:\n  - stage: 2\n    depends_on: [3]\n"},
		{name: "bad template", doc: "stages:\n  - stage: 1\n    template: \"{{.problem\"\n"},
		{name: "bad yaml", doc: "stages: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tt.doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
