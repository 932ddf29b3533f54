package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/docanalysis/docerr"
)

// Dataset is a collection of labelled documents.
type Dataset struct {
	Name  string `json:"name" yaml:"name"`
	Cases []Case `json:"cases" yaml:"cases"`

	// Dir resolves relative case paths. LoadDataset sets it to the
	// dataset file's directory.
	Dir string `json:"-" yaml:"-"`
}

// Case is one document and what the pipeline should extract from it.
type Case struct {
	File     string   `json:"file" yaml:"file"`
	MIME     string   `json:"mime,omitempty" yaml:"mime,omitempty"`
	Category string   `json:"category,omitempty" yaml:"category,omitempty"` // report grouping, e.g. "scanned"
	Expected Expected `json:"expected" yaml:"expected"`

	// ExpectError marks a case that must fail with this error type.
	ExpectError docerr.Kind `json:"expect_error,omitempty" yaml:"expect_error,omitempty"`
}

// Expected holds the ground truth for a case. Empty fields are not scored.
type Expected struct {
	Name           string            `json:"name,omitempty" yaml:"name,omitempty"`
	Code           string            `json:"code,omitempty" yaml:"code,omitempty"`
	Category       string            `json:"category,omitempty" yaml:"category,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty" yaml:"specifications,omitempty"`
}

// LoadDataset reads a YAML (.yaml/.yml) or JSON dataset file.
func LoadDataset(path string) (Dataset, error) {
	var ds Dataset
	data, err := os.ReadFile(path)
	if err != nil {
		return ds, fmt.Errorf("reading dataset: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &ds)
	default:
		err = json.Unmarshal(data, &ds)
	}
	if err != nil {
		return ds, fmt.Errorf("parsing dataset %s: %w", filepath.Base(path), err)
	}
	for i, c := range ds.Cases {
		if strings.TrimSpace(c.File) == "" {
			return ds, fmt.Errorf("dataset %s: case %d has no file", filepath.Base(path), i+1)
		}
	}
	if ds.Name == "" {
		ds.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	ds.Dir = filepath.Dir(path)
	return ds, nil
}

func (ds Dataset) path(c Case) string {
	if filepath.IsAbs(c.File) || ds.Dir == "" {
		return c.File
	}
	return filepath.Join(ds.Dir, c.File)
}
