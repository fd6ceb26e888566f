package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"text/template"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"

	"gopkg.in/yaml.v3"
)

// ErrInvalidInput is returned for stage inputs the stage does not declare.
var ErrInvalidInput = errors.New("invalid stage input")

// StageDef describes one stage of the process: what the user supplies,
// which earlier outputs it builds on and how its prompt is worded.
//
// Templates use text/template. User inputs are available by name, earlier
// outputs as stage1_output ... stage7_output, for example
// "Problem: {{.problem}}" or "Summary: {{.stage1_output}}".
type StageDef struct {
	Stage     int      `yaml:"stage" json:"stage"`
	Title     string   `yaml:"title" json:"title"`
	Inputs    []string `yaml:"inputs" json:"inputs"`
	DependsOn []int    `yaml:"depends_on" json:"depends_on"`
	Template  string   `yaml:"template" json:"-"`

	tmpl *template.Template
}

// Catalog holds the definitions of all seven stages.
type Catalog struct {
	stages map[int]StageDef
}

var defaultStages = []StageDef{
	{
		Stage:  1,
		Title:  "Understand the Problem",
		Inputs: []string{"problem", "context"},
		Template: `Stage 1: Understand the Problem
Problem: {{.problem}}
Context: {{.context}}

Instructions:
- Restate the problem in your own words.
- Identify the key constraints.
- Break the problem into subproblems.
`,
	},
	{
		Stage:     2,
		Title:     "Research & Gather Information",
		Inputs:    []string{"user_data"},
		DependsOn: []int{1},
		Template: `Stage 2: Research & Gather Information
Problem summary: {{.stage1_output}}
User data: {{.user_data}}

Instructions:
- Identify the information and data that is needed.
- Make explicit assumptions where data is missing.
`,
	},
	{
		Stage:     3,
		Title:     "Generate Possible Solutions",
		Inputs:    []string{"preferences"},
		DependsOn: []int{1, 2},
		Template: `Stage 3: Generate Possible Solutions
Problem summary: {{.stage1_output}}
Assumptions: {{.stage2_output}}
Preferences: {{.preferences}}

Instructions:
- List several possible solutions.
- Give pros and cons for each.
- Explain your reasoning.
`,
	},
	{
		Stage:     4,
		Title:     "Select the Best Solution",
		Inputs:    []string{"criteria"},
		DependsOn: []int{3},
		Template: `Stage 4: Select the Best Solution
Possible solutions: {{.stage3_output}}
Selection criteria: {{.criteria}}

Instructions:
- Compare the solutions against the criteria.
- Choose one and justify the choice.
`,
	},
	{
		Stage:     5,
		Title:     "Plan Implementation",
		Inputs:    []string{"resources"},
		DependsOn: []int{4},
		Template: `Stage 5: Plan Implementation
Selected solution: {{.stage4_output}}
Resources: {{.resources}}

Instructions:
- Break the solution into steps.
- Assign priorities.
- Describe the expected outcome of each step.
`,
	},
	{
		Stage:     6,
		Title:     "Testing & Verification",
		Inputs:    []string{"testing_info"},
		DependsOn: []int{5},
		Template: `Stage 6: Testing & Verification
Implementation plan: {{.stage5_output}}
Testing info: {{.testing_info}}

Instructions:
- Define how each step is tested.
- Predict likely issues and their mitigations.
`,
	},
	{
		Stage:     7,
		Title:     "Reflection & Optimization",
		Inputs:    []string{"reflection"},
		DependsOn: []int{6},
		Template: `Stage 7: Reflection & Optimization
Solution outcome: {{.stage6_output}}
Reflections: {{.reflection}}

Instructions:
- Suggest improvements.
- Summarize what was learned.
`,
	},
}

// DefaultCatalog returns the built-in stage definitions.
func DefaultCatalog() *Catalog {
	c, err := newCatalog(defaultStages)
	if err != nil {
		panic(fmt.Sprintf("built-in stage catalog: %v", err))
	}
	return c
}

type catalogFile struct {
	Stages []StageDef `yaml:"stages"`
}

// LoadCatalog reads stage overrides from a YAML file:
//
//	stages:
//	  - stage: 2
//	    title: Research
//	    inputs: [user_data, budget]
//	    template: |
//	      ...
//
// Stages missing from the file keep their defaults. Empty fields of an
// override inherit the default too.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stage catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog is LoadCatalog on an in-memory document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse stage catalog: %w", err)
	}

	merged := make(map[int]StageDef, len(defaultStages))
	for _, d := range defaultStages {
		merged[d.Stage] = d
	}
	for _, o := range f.Stages {
		if !common.ValidStage(o.Stage) {
			return nil, fmt.Errorf("stage catalog: stage %d out of range", o.Stage)
		}
		d := merged[o.Stage]
		if o.Title != "" {
			d.Title = o.Title
		}
		if o.Inputs != nil {
			d.Inputs = o.Inputs
		}
		if o.DependsOn != nil {
			d.DependsOn = o.DependsOn
		}
		if o.Template != "" {
			d.Template = o.Template
		}
		merged[o.Stage] = d
	}

	return newCatalog(slices.Collect(maps.Values(merged)))
}

func newCatalog(defs []StageDef) (*Catalog, error) {
	c := &Catalog{stages: make(map[int]StageDef, len(defs))}
	for _, d := range defs {
		for _, dep := range d.DependsOn {
			if dep >= d.Stage || !common.ValidStage(dep) {
				return nil, fmt.Errorf("stage catalog: stage %d cannot depend on stage %d", d.Stage, dep)
			}
		}
		tmpl, err := template.New(fmt.Sprintf("stage%d", d.Stage)).
			Option("missingkey=zero").
			Parse(d.Template)
		if err != nil {
			return nil, fmt.Errorf("stage catalog: template of stage %d: %w", d.Stage, err)
		}
		d.tmpl = tmpl
		c.stages[d.Stage] = d
	}
	return c, nil
}

// Stage returns the definition of a stage.
func (c *Catalog) Stage(n int) (StageDef, bool) {
	d, ok := c.stages[n]
	return d, ok
}

// Stages returns all definitions in stage order.
func (c *Catalog) Stages() []StageDef {
	out := slices.Collect(maps.Values(c.stages))
	slices.SortFunc(out, func(a, b StageDef) int { return a.Stage - b.Stage })
	return out
}

// Render fills the stage template with the user inputs and the outputs of
// earlier stages, keyed by stage number.
func (c *Catalog) Render(n int, inputs map[string]string, outputs map[int]string) (string, error) {
	d, ok := c.stages[n]
	if !ok {
		return "", fmt.Errorf("no stage %d in catalog", n)
	}
	for k := range inputs {
		if !slices.Contains(d.Inputs, k) {
			return "", fmt.Errorf("%w: stage %d does not take %q", ErrInvalidInput, n, k)
		}
	}

	data := make(map[string]string, len(d.Inputs)+len(outputs))
	for _, k := range d.Inputs {
		data[k] = strings.TrimSpace(inputs[k])
	}
	for stage, out := range outputs {
		data[fmt.Sprintf("stage%d_output", stage)] = out
	}

	var b strings.Builder
	if err := d.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render stage %d prompt: %w", n, err)
	}
	return b.String(), nil
}
