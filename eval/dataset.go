package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dataset is a collection of questions about one document.
type Dataset struct {
	Name  string     `json:"name" yaml:"name"`
	Tests []TestCase `json:"tests" yaml:"tests"`
}

// TestCase defines a single evaluation question.
type TestCase struct {
	Question string `json:"question" yaml:"question"`

	// ExpectedFacts should appear in the retrieved chunks (and in the
	// answer when answers are evaluated). "a|b" accepts either form.
	ExpectedFacts []string `json:"expected_facts" yaml:"expected_facts"`

	// ExpectedPages are the pages holding the evidence.
	ExpectedPages []int `json:"expected_pages,omitempty" yaml:"expected_pages,omitempty"`

	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

// LoadDataset reads a dataset from a YAML or JSON file, chosen by
// extension.
func LoadDataset(path string) (Dataset, error) {
	var ds Dataset
	data, err := os.ReadFile(path)
	if err != nil {
		return ds, fmt.Errorf("reading dataset: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &ds)
	default:
		err = yaml.Unmarshal(data, &ds)
	}
	if err != nil {
		return ds, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if ds.Name == "" {
		ds.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	for i, tc := range ds.Tests {
		if strings.TrimSpace(tc.Question) == "" {
			return ds, fmt.Errorf("dataset %s: test %d has no question", path, i+1)
		}
	}
	return ds, nil
}
