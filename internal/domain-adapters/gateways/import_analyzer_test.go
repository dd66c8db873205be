package gateways

import (
	"context"
	"reflect"
	"testing"

	"github.com/ochairo/tally/internal/domain/entities"
)

func TestImportAnalyzer_Analyze(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/App.jsx": `import React from 'react';
import {
  Button,
  Navigation,
  TextInput as Input,
  type ButtonProps,
} from 'hds-react';
import { Card } from './Card';

export const App = () => (
  <Navigation title="x">
    <Navigation.Item label="a" />
    <Button>One</Button>
    <Button>Two</Button>
    <Input id="name" /><Card />
  </Navigation>
);
`,
		"src/Footer.tsx": `import * as HDS from "hds-react/components";
export const Footer = () => <HDS.Footer><HDS.Footer.Base /></HDS.Footer>;
`,
		"src/Plain.js":        `const Button = () => null; export default () => <Button />;`,
		"src/types.d.ts":      `import { Button } from 'hds-react'; <Button />`,
		"node_modules/x/a.js": `import { Button } from 'hds-react'; <Button />`,
		"README.md":           `import { Button } from 'hds-react'; <Button />`,
	})

	a := NewImportAnalyzer("hds-react", nil)
	usage, err := a.Analyze(context.Background(), root, entities.DirExclusion{"node_modules"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	want := entities.ComponentUsage{
		"Navigation":      {{File: "src/App.jsx", Line: 11}},
		"Navigation.Item": {{File: "src/App.jsx", Line: 12}},
		"Button": {
			{File: "src/App.jsx", Line: 13},
			{File: "src/App.jsx", Line: 14},
		},
		"TextInput":   {{File: "src/App.jsx", Line: 15}},
		"Footer":      {{File: "src/Footer.tsx", Line: 2}},
		"Footer.Base": {{File: "src/Footer.tsx", Line: 2}},
	}
	if !reflect.DeepEqual(usage, want) {
		t.Errorf("Analyze() = %+v, want %+v", usage, want)
	}
}

func TestImportAnalyzer_NoImports(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"index.js": `console.log("hds-react")`})

	usage, err := NewImportAnalyzer("hds-react", nil).Analyze(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(usage) != 0 {
		t.Errorf("Analyze() = %+v, want empty", usage)
	}
}

func TestImportBindings_Resolve(t *testing.T) {
	b := importBindings{
		named:      map[string]string{"Btn": "Button", "Navigation": "Navigation"},
		namespaces: map[string]bool{"HDS": true},
	}

	tests := map[string]string{
		"Btn":             "Button",
		"Navigation.Item": "Navigation.Item",
		"HDS.Link":        "Link",
		"HDS":             "",
		"Other":           "",
		"Other.Item":      "",
	}
	for element, want := range tests {
		if got := b.resolve(element); got != want {
			t.Errorf("resolve(%q) = %q, want %q", element, got, want)
		}
	}
}
