package variables

import (
	"fmt"
	"sort"
	"strings"
)

// Kind says where a variable's value comes from.
type Kind string

const (
	KindAuto    Kind = "auto"    // resolved from a source by SystemKey
	KindFormula Kind = "formula" // documented formula, computed by rules
	KindInput   Kind = "input"   // entered externally
)

// Category groups variables for display.
type Category string

const (
	CategoryHR        Category = "hr"
	CategorySalary    Category = "salary"
	CategoryTax       Category = "tax"
	CategoryInsurance Category = "insurance"
	CategoryTimesheet Category = "timesheet"
)

// Definition declares one catalog variable.
// SystemKey has the form "source:field", e.g. "timesheet:points".
type Definition struct {
	Key         string
	Name        string
	Category    Category
	Kind        Kind
	Type        Type
	SystemKey   string
	Definition  string
	Description string
	Active      bool
}

// Source returns the source part of SystemKey.
func (d Definition) Source() string {
	src, _, _ := strings.Cut(d.SystemKey, ":")
	return src
}

// Field returns the field part of SystemKey.
func (d Definition) Field() string {
	_, field, _ := strings.Cut(d.SystemKey, ":")
	return field
}

// Validate checks a single definition.
func (d Definition) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("variable %q: key is required", d.Name)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("variable %s: unknown type %q", d.Key, d.Type)
	}
	switch d.Kind {
	case KindAuto:
		if !strings.Contains(d.SystemKey, ":") {
			return fmt.Errorf("variable %s: auto variables need a source:field system key", d.Key)
		}
	case KindFormula:
		if strings.TrimSpace(d.Definition) == "" {
			return fmt.Errorf("variable %s: formula variables need a definition", d.Key)
		}
	case KindInput:
	default:
		return fmt.Errorf("variable %s: unknown kind %q", d.Key, d.Kind)
	}
	return nil
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog indexes definitions by key. Read-only once built.
type Catalog struct {
	defs map[string]Definition
}

// NewCatalog validates defs and rejects duplicate keys.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.defs[d.Key]; dup {
			return nil, fmt.Errorf("variable %s: duplicate key", d.Key)
		}
		c.defs[d.Key] = d
	}
	return c, nil
}

// Lookup returns the definition for key.
func (c *Catalog) Lookup(key string) (Definition, bool) {
	if c == nil {
		return Definition{}, false
	}
	d, ok := c.defs[key]
	return d, ok
}

// TypeOf returns the declared type of key, TypeOpaque if unknown.
func (c *Catalog) TypeOf(key string) Type {
	if d, ok := c.Lookup(key); ok {
		return d.Type
	}
	return TypeOpaque
}

// Auto returns the active auto definitions, restricted to keys when given,
// ordered by key.
func (c *Catalog) Auto(keys []string) []Definition {
	var want map[string]bool
	if len(keys) > 0 {
		want = make(map[string]bool, len(keys))
		for _, k := range keys {
			want[k] = true
		}
	}
	var out []Definition
	for _, d := range c.defs {
		if d.Kind != KindAuto || !d.Active {
			continue
		}
		if want != nil && !want[d.Key] {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// All returns every definition ordered by category then key.
func (c *Catalog) All() []Definition {
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Typed wraps raw values with their declared types.
func (c *Catalog) Typed(raw map[string]any) Map {
	m := make(Map, len(raw))
	for k, v := range raw {
		m.Set(k, c.TypeOf(k), v)
	}
	return m
}

// DefaultDefinitions is the standard catalog: employee facts, the salary
// profile, allowances and the monthly timesheet.
func DefaultDefinitions() []Definition {
	auto := func(key, name string, cat Category, t Type, systemKey string) Definition {
		return Definition{Key: key, Name: name, Category: cat, Kind: KindAuto, Type: t, SystemKey: systemKey, Active: true}
	}
	return []Definition{
		auto("employee_index", "Employee code", CategoryHR, TypeText, "employee:employee_index"),
		auto("department_id", "Department", CategoryHR, TypeText, "employee:department_id"),
		auto("base_wage", "Base wage", CategorySalary, TypeMonetary, "profile:base_wage"),
		auto("si_wage", "Social insurance wage", CategoryInsurance, TypeMonetary, "profile:si_wage"),
		auto("dependent_count", "Dependents", CategoryTax, TypeInteger, "profile:dependent_count"),
		auto("wage_type", "Wage type (gross/net)", CategorySalary, TypeText, "profile:wage_type"),
		auto("allow_lunch", "Lunch allowance", CategorySalary, TypeMonetary, "allowance:lunch"),
		auto("work_day", "Standard work days", CategoryTimesheet, TypeFloat, "timesheet:work_day"),
		auto("points", "Worked days", CategoryTimesheet, TypeFloat, "timesheet:points"),
		auto("unpaid_lf_point", "Unpaid leave days", CategoryTimesheet, TypeFloat, "timesheet:unpaid_lf_point"),
		auto("sum_late", "Late arrivals", CategoryTimesheet, TypeInteger, "timesheet:sum_late"),
	}
}

// DefaultCatalog builds the standard catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultDefinitions()...)
	if err != nil {
		panic(err)
	}
	return c
}
