// Package mesh holds the minimal field-data containers the coupling core
// reads from and writes into. Geometry, interpolation, and mapping between
// non-matching meshes live outside this module.
package mesh

import "fmt"

// A Mesh is the local partition of a coupling surface: the global IDs of
// the vertices this rank holds, plus the named data fields bound to them.
type Mesh struct {
	name      string
	globalIDs []int
	data      map[string]*Data
}

// NewMesh creates a mesh partition with the given vertex global IDs.
func NewMesh(name string, globalIDs []int) *Mesh {
	if name == "" {
		panic("mesh name must not be empty")
	}

	return &Mesh{
		name:      name,
		globalIDs: append([]int(nil), globalIDs...),
		data:      make(map[string]*Data),
	}
}

// Name returns the mesh name.
func (m *Mesh) Name() string { return m.name }

// VertexCount returns the number of vertices this rank holds.
func (m *Mesh) VertexCount() int { return len(m.globalIDs) }

// GlobalIDs returns the global vertex IDs of this partition, in local
// index order. Callers must not modify the returned slice.
func (m *Mesh) GlobalIDs() []int { return m.globalIDs }

// CreateData binds a new named field of the given per-vertex dimensionality
// to the mesh. Data names are unique per mesh; a duplicate name is a
// programming error.
func (m *Mesh) CreateData(name string, dims int) *Data {
	if dims < 1 {
		panic(fmt.Sprintf("data %q must have positive dimensionality", name))
	}

	if _, exists := m.data[name]; exists {
		panic(fmt.Sprintf("data %q already declared on mesh %q",
			name, m.name))
	}

	d := &Data{
		name:   name,
		dims:   dims,
		Values: make([]float64, dims*len(m.globalIDs)),
	}
	m.data[name] = d

	return d
}

// DataByName returns the named field. Referencing an undeclared data item
// is a programming error.
func (m *Mesh) DataByName(name string) *Data {
	d, ok := m.data[name]
	if !ok {
		panic(fmt.Sprintf("data %q not declared on mesh %q", name, m.name))
	}

	return d
}

// HasData reports whether the named field is declared on the mesh.
func (m *Mesh) HasData(name string) bool {
	_, ok := m.data[name]
	return ok
}

// A Data is a named per-vertex field. Values holds dims contiguous entries
// per vertex, in local index order; its lifetime is tied to the mesh.
type Data struct {
	name string
	dims int

	Values []float64
}

// Name returns the field name.
func (d *Data) Name() string { return d.name }

// Dims returns the per-vertex dimensionality.
func (d *Data) Dims() int { return d.dims }

// Snapshot returns a copy of the current values.
func (d *Data) Snapshot() []float64 {
	return append([]float64(nil), d.Values...)
}

// Restore overwrites the values with a snapshot taken earlier.
func (d *Data) Restore(snapshot []float64) {
	if len(snapshot) != len(d.Values) {
		panic(fmt.Sprintf("snapshot of data %q has wrong length", d.name))
	}

	copy(d.Values, snapshot)
}
