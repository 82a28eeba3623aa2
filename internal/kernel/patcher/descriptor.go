package patcher

import (
	"fmt"
)

// Descriptor names one location, its expected prior content and its
// intended replacement content.
type Descriptor struct {
	// Offset is the location inside the target image. If Signature is
	// set the offset is resolved by scanning instead.
	Offset uint64 `toml:"offset" json:"offset"`

	// Original is the 32-bit word expected at Offset before patching,
	// Patched must only be written where the live word equals it.
	Original uint32 `toml:"original" json:"original"`

	// Patched is the replacement word.
	Patched uint32 `toml:"patched" json:"patched"`

	// Description is a human readable label.
	Description string `toml:"description" json:"description"`

	// Signature is an optional byte pattern ("05 00 51 E3 ?? 00"), it
	// makes offset resolution pluggable instead of hard-coded.
	Signature string `toml:"signature,omitempty" json:"signature,omitempty"`
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("0x%08X 0x%08X -> 0x%08X %s",
		d.Offset, d.Original, d.Patched, d.Description)
}

// Table is an immutable ordered list of patch descriptors, it is
// injected into the applier at construction.
type Table struct {
	descriptors []Descriptor
}

// NewTable is used to create a table, the descriptors are copied.
func NewTable(descriptors ...Descriptor) *Table {
	table := Table{descriptors: make([]Descriptor, len(descriptors))}
	copy(table.descriptors, descriptors)
	return &table
}

// Len is used to get the number of descriptors.
func (table *Table) Len() int {
	return len(table.descriptors)
}

// Descriptor is used to get a copy of descriptor i.
func (table *Table) Descriptor(i int) Descriptor {
	return table.descriptors[i]
}

// Descriptors is used to get a copy of the whole list in input order.
func (table *Table) Descriptors() []Descriptor {
	descriptors := make([]Descriptor, len(table.descriptors))
	copy(descriptors, table.descriptors)
	return descriptors
}

// Resolver turns a signature into the single image offset it names.
// A resolver must fail rather than guess when the signature matches
// zero or multiple locations.
type Resolver interface {
	Resolve(signature string) (uint64, error)
}
