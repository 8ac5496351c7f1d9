package variables

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// RESOLVER - Fills the variable map for one employee and date range
// =============================================================================

// Resolver produces the variable map for (employee, from, to). When keys is
// non-empty only those keys are required.
//
// A resolver may return a partial Map together with an error wrapping
// generic.ErrDataUnavailable; callers continue with the partial map and
// record generic.DefaultedInputs(err).
type Resolver interface {
	Resolve(ctx context.Context, emp generic.Employee, from, to time.Time, keys []string) (Map, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, emp generic.Employee, from, to time.Time, keys []string) (Map, error)

func (f ResolverFunc) Resolve(ctx context.Context, emp generic.Employee, from, to time.Time, keys []string) (Map, error) {
	return f(ctx, emp, from, to, keys)
}

// Source fetches the raw fields one upstream system knows about an employee.
type Source interface {
	Fetch(ctx context.Context, emp generic.Employee, from, to time.Time) (map[string]any, error)
}

// =============================================================================
// SOURCE RESOLVER - Catalog-driven resolution
// =============================================================================

// SourceResolver resolves every active auto variable of the catalog from
// the source named in its system key. Each source is fetched at most once
// per call.
type SourceResolver struct {
	Catalog *Catalog
	Sources map[string]Source
}

func NewSourceResolver(catalog *Catalog) *SourceResolver {
	return &SourceResolver{Catalog: catalog, Sources: make(map[string]Source)}
}

// Register adds or replaces a named source.
func (r *SourceResolver) Register(name string, src Source) *SourceResolver {
	r.Sources[name] = src
	return r
}

func (r *SourceResolver) Resolve(ctx context.Context, emp generic.Employee, from, to time.Time, keys []string) (Map, error) {
	defs := r.Catalog.Auto(keys)
	out := make(Map, len(defs))

	bySource := make(map[string][]Definition)
	var order []string
	for _, d := range defs {
		if _, seen := bySource[d.Source()]; !seen {
			order = append(order, d.Source())
		}
		bySource[d.Source()] = append(bySource[d.Source()], d)
	}

	var errs []error
	for _, name := range order {
		group := bySource[name]
		raw, err := r.fetch(ctx, name, emp, from, to)
		if err != nil {
			inputs := make([]string, len(group))
			for i, d := range group {
				inputs[i] = d.Key
				out.Set(d.Key, d.Type, nil)
			}
			errs = append(errs, &generic.DataUnavailableError{Source: name, Inputs: inputs, Err: err})
			continue
		}
		for _, d := range group {
			out.Set(d.Key, d.Type, raw[d.Field()])
		}
	}
	return out, errors.Join(errs...)
}

func (r *SourceResolver) fetch(ctx context.Context, name string, emp generic.Employee, from, to time.Time) (map[string]any, error) {
	src, ok := r.Sources[name]
	if !ok {
		return nil, fmt.Errorf("no source registered for %q", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return src.Fetch(ctx, emp, from, to)
}

// =============================================================================
// STATIC RESOLVER - Fixed values per employee
// =============================================================================

// StaticResolver serves pre-entered values, typed through Catalog when set.
// It backs input variables and fixtures.
type StaticResolver struct {
	Catalog *Catalog
	Values  map[generic.EmployeeID]map[string]any
}

func (r *StaticResolver) Resolve(_ context.Context, emp generic.Employee, _, _ time.Time, keys []string) (Map, error) {
	raw := r.Values[emp.ID]
	out := make(Map, len(raw))
	if len(keys) == 0 {
		for k, v := range raw {
			out.Set(k, r.Catalog.TypeOf(k), v)
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			out.Set(k, r.Catalog.TypeOf(k), v)
		}
	}
	return out, nil
}

// =============================================================================
// CHAIN - Layered resolvers
// =============================================================================

// Chain merges several resolvers in order; later resolvers override earlier
// ones on the same key. Errors from every layer are joined.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, emp generic.Employee, from, to time.Time, keys []string) (Map, error) {
	out := make(Map)
	var errs []error
	for _, r := range c {
		m, err := r.Resolve(ctx, emp, from, to, keys)
		if err != nil {
			errs = append(errs, err)
		}
		for k, v := range m {
			if existing, ok := out[k]; ok && v.IsNull() && !existing.IsNull() {
				continue
			}
			out[k] = v
		}
	}
	return out, errors.Join(errs...)
}

// =============================================================================
// SOURCES
// =============================================================================

// EmployeeSource exposes the employee record itself.
type EmployeeSource struct{}

func (EmployeeSource) Fetch(_ context.Context, emp generic.Employee, _, _ time.Time) (map[string]any, error) {
	return map[string]any{
		"id":             string(emp.ID),
		"employee_index": emp.Code,
		"name":           emp.Name,
		"department_id":  emp.DepartmentID,
		"job_title":      emp.JobTitle,
	}, nil
}

// StaticSource serves fixed per-employee fields, such as salary profiles
// or allowances loaded from configuration.
type StaticSource map[generic.EmployeeID]map[string]any

func (s StaticSource) Fetch(_ context.Context, emp generic.Employee, _, _ time.Time) (map[string]any, error) {
	return s[emp.ID], nil
}
