// Package catalog holds the static data-source catalog: each descriptor maps
// domain keywords to a backing table and the subset of its schema that
// generated queries may touch. The catalog is loaded once at startup and is
// read-only afterwards.
package catalog

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Dimension is a filterable column with its known values. Dimension values
// extracted from request text are matched against Values and bound as query
// parameters; the canonical catalog value is bound, never the raw text.
type Dimension struct {
	Column string   `yaml:"column"`
	Values []string `yaml:"values"`
}

// Descriptor is one catalog entry.
type Descriptor struct {
	Name             string        `yaml:"name"`
	Domain           string        `yaml:"domain"`
	Description      string        `yaml:"description"`
	Keywords         []string      `yaml:"keywords"`
	Table            string        `yaml:"table"`
	TimeColumn       string        `yaml:"time_column"`
	ValueColumns     []string      `yaml:"value_columns"`
	Dimensions       []Dimension   `yaml:"dimensions"`
	SamplingInterval time.Duration `yaml:"-"`
}

// UnmarshalYAML decodes a descriptor, parsing sampling_interval from a Go
// duration string ("15m", "1h").
func (d *Descriptor) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		Name             string      `yaml:"name"`
		Domain           string      `yaml:"domain"`
		Description      string      `yaml:"description"`
		Keywords         []string    `yaml:"keywords"`
		Table            string      `yaml:"table"`
		TimeColumn       string      `yaml:"time_column"`
		ValueColumns     []string    `yaml:"value_columns"`
		Dimensions       []Dimension `yaml:"dimensions"`
		SamplingInterval string      `yaml:"sampling_interval"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	d.Name = aux.Name
	d.Domain = aux.Domain
	d.Description = aux.Description
	d.Keywords = aux.Keywords
	d.Table = aux.Table
	d.TimeColumn = aux.TimeColumn
	d.ValueColumns = aux.ValueColumns
	d.Dimensions = aux.Dimensions
	if aux.SamplingInterval != "" {
		iv, err := time.ParseDuration(aux.SamplingInterval)
		if err != nil {
			return fmt.Errorf("descriptor %q: invalid sampling_interval: %w", d.Name, err)
		}
		d.SamplingInterval = iv
	}
	return nil
}

func (d *Descriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor name is required")
	}
	if d.Table == "" {
		return fmt.Errorf("descriptor %q: table is required", d.Name)
	}
	if d.TimeColumn == "" {
		return fmt.Errorf("descriptor %q: time column is required", d.Name)
	}
	if len(d.ValueColumns) == 0 {
		return fmt.Errorf("descriptor %q: at least one value column is required", d.Name)
	}
	if len(d.Keywords) == 0 {
		return fmt.Errorf("descriptor %q: at least one keyword is required", d.Name)
	}
	if d.SamplingInterval <= 0 {
		return fmt.Errorf("descriptor %q: sampling interval must be > 0", d.Name)
	}
	return nil
}

// Columns returns every column a query against this descriptor may
// reference: the time column, value columns and dimension columns.
func (d *Descriptor) Columns() []string {
	cols := make([]string, 0, 1+len(d.ValueColumns)+len(d.Dimensions))
	cols = append(cols, d.TimeColumn)
	cols = append(cols, d.ValueColumns...)
	for _, dim := range d.Dimensions {
		cols = append(cols, dim.Column)
	}
	return cols
}

// Catalog is an ordered, read-only list of descriptors. Declaration order is
// significant: it breaks resolver score ties.
type Catalog struct {
	descriptors []Descriptor
}

// New builds a catalog, validating every descriptor.
func New(descriptors []Descriptor) (*Catalog, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	seen := make(map[string]bool, len(descriptors))
	for i := range descriptors {
		if err := descriptors[i].validate(); err != nil {
			return nil, err
		}
		if seen[descriptors[i].Name] {
			return nil, fmt.Errorf("duplicate descriptor name %q", descriptors[i].Name)
		}
		seen[descriptors[i].Name] = true
	}
	return &Catalog{descriptors: descriptors}, nil
}

// LoadFile reads a YAML catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var doc struct {
		Sources []Descriptor `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	return New(doc.Sources)
}

// Descriptors returns the catalog entries in declaration order.
func (c *Catalog) Descriptors() []Descriptor {
	return c.descriptors
}

// Tokenize lower-cases text and splits it into word tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
