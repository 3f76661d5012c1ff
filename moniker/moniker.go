// Package moniker defines the stable identity of a brokered service: a
// name plus an optional free-form version. Monikers are immutable values
// compared structurally, with an ordinal (byte-exact) name comparison.
package moniker

import "fmt"

// Moniker identifies one logical service contract. Name is required and
// non-empty; Version is free-form and matched exactly — two monikers with
// the same name and different versions are distinct services.
type Moniker struct {
	Name    string
	Version string // empty means "unversioned"
}

// New constructs a moniker. Name must be non-empty.
func New(name, version string) Moniker {
	return Moniker{Name: name, Version: version}
}

// Unversioned constructs a moniker with no version constraint.
func Unversioned(name string) Moniker {
	return Moniker{Name: name}
}

// Equal reports structural, ordinal equality.
func (m Moniker) Equal(other Moniker) bool {
	return m.Name == other.Name && m.Version == other.Version
}

// String renders "name" or "name@version" for logging and as a registry key
// component.
func (m Moniker) String() string {
	if m.Version == "" {
		return m.Name
	}
	return fmt.Sprintf("%s@%s", m.Name, m.Version)
}

// Valid reports whether the moniker carries a non-empty name.
func (m Moniker) Valid() bool {
	return m.Name != ""
}
