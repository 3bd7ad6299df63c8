package deps_test

import (
	"context"
	"fmt"

	"github.com/matzehuels/apm/pkg/deps"
	"github.com/matzehuels/apm/pkg/descriptor"
	"github.com/matzehuels/apm/pkg/errors"
	"github.com/matzehuels/apm/pkg/integrations/npm"
)

type staticRegistry map[string]*npm.Metadata

func (r staticRegistry) Metadata(_ context.Context, name string, _ bool) (*npm.Metadata, error) {
	if m, ok := r[name]; ok {
		return m, nil
	}
	return nil, errors.New(errors.ErrCodePackageNotFound, "package %s not found", name)
}

func pkg(name, ver string, deps map[string]string) *descriptor.Descriptor {
	if deps == nil {
		deps = map[string]string{}
	}
	return &descriptor.Descriptor{Name: name, Version: ver, Dependencies: deps, MainEntry: descriptor.DefaultMain}
}

func ExampleGraph_Resolve() {
	reg := staticRegistry{
		"jquery": {Name: "jquery", Versions: map[string]*descriptor.Descriptor{
			"1.0.0": pkg("jquery", "1.0.0", nil),
			"1.2.0": pkg("jquery", "1.2.0", nil),
		}},
		"widgets": {Name: "widgets", Versions: map[string]*descriptor.Descriptor{
			"2.0.0": pkg("widgets", "2.0.0", map[string]string{"jquery": "^1.0.0"}),
		}},
	}

	root := pkg("app", "1.0.0", map[string]string{"widgets": "^2.0.0", "jquery": "~1.2.0"})
	g := deps.New(reg, nil, deps.Options{ModulesDir: "testdata/none"})
	if err := g.Resolve(context.Background(), root, nil, deps.ResolveOptions{}); err != nil {
		fmt.Println(err)
		return
	}
	for _, n := range g.InstallOrder() {
		fmt.Println(n, "refs:", n.RefCount())
	}
	// Output:
	// jquery@1.2.0 refs: 2
	// widgets@2.0.0 refs: 1
}

func ExampleConflict_String() {
	c := deps.Conflict{
		Name:     "bar",
		Existing: deps.Requirement{Range: "<=1.0.0", RequiredBy: "coo@1.0.0"},
		Incoming: deps.Requirement{Range: "1.1.0", RequiredBy: "index"},
		Upgrade:  true,
	}
	fmt.Println(c)
	// Output:
	// version conflict: upgrade bar@<=1.0.0 (required by coo@1.0.0) to match 1.1.0 (required by index)
}
