package component

import (
	"github.com/wippyai/wasm-toolkit/errors"
	"github.com/wippyai/wasm-toolkit/wasm"
)

// scopeKind identifies what a scope represents.
type scopeKind byte

const (
	scopeComponent scopeKind = iota
	scopeInstanceType
	scopeComponentType
)

// valueEntry tracks a component value and whether it has been consumed.
// Every value must be used at least once by the end of the component; a
// second use of the same value is not rejected.
type valueEntry struct {
	t    wasm.ComponentValType
	used bool
}

// scope holds the index spaces of one component (or of an instance or
// component type while its declarations are processed). All type-shaped
// entries are IDs into the shared type environment.
type scope struct {
	kind scopeKind

	types      []wasm.TypeID
	funcs      []wasm.TypeID
	instances  []wasm.TypeID
	components []wasm.TypeID
	values     []valueEntry

	coreModules []wasm.TypeID
	coreTypes   []wasm.TypeID
	coreFuncs   []wasm.TypeID

	// Core instances expose their exports for aliasing.
	coreInstanceExports []map[string]wasm.EntityType

	// Core memories, tables, and globals only enter a component scope via
	// aliases; their types are not tracked beyond existence.
	coreMemories int
	coreTables   int
	coreGlobals  int

	imports map[string]wasm.ComponentEntity
	exports map[string]wasm.ComponentEntity
}

func newScope(kind scopeKind) *scope {
	return &scope{
		kind:    kind,
		imports: make(map[string]wasm.ComponentEntity),
		exports: make(map[string]wasm.ComponentEntity),
	}
}

func (s *scope) addType(id wasm.TypeID) {
	s.types = append(s.types, id)
}

func (s *scope) typeAt(idx uint32, offset int) (wasm.TypeID, error) {
	if int(idx) >= len(s.types) {
		return 0, errors.Invalid(offset, "unknown type %d: type index out of bounds", idx)
	}
	return s.types[idx], nil
}

func (s *scope) funcAt(idx uint32, offset int) (wasm.TypeID, error) {
	if int(idx) >= len(s.funcs) {
		return 0, errors.Invalid(offset, "unknown function %d: function index out of bounds", idx)
	}
	return s.funcs[idx], nil
}

func (s *scope) instanceAt(idx uint32, offset int) (wasm.TypeID, error) {
	if int(idx) >= len(s.instances) {
		return 0, errors.Invalid(offset, "unknown instance %d: instance index out of bounds", idx)
	}
	return s.instances[idx], nil
}

func (s *scope) componentAt(idx uint32, offset int) (wasm.TypeID, error) {
	if int(idx) >= len(s.components) {
		return 0, errors.Invalid(offset, "unknown component %d: component index out of bounds", idx)
	}
	return s.components[idx], nil
}

func (s *scope) coreModuleAt(idx uint32, offset int) (wasm.TypeID, error) {
	if int(idx) >= len(s.coreModules) {
		return 0, errors.Invalid(offset, "unknown module %d: module index out of bounds", idx)
	}
	return s.coreModules[idx], nil
}

func (s *scope) coreFuncAt(idx uint32, offset int) (wasm.TypeID, error) {
	if int(idx) >= len(s.coreFuncs) {
		return 0, errors.Invalid(offset, "unknown core function %d: core function index out of bounds", idx)
	}
	return s.coreFuncs[idx], nil
}

func (s *scope) coreInstanceAt(idx uint32, offset int) (map[string]wasm.EntityType, error) {
	if int(idx) >= len(s.coreInstanceExports) {
		return nil, errors.Invalid(offset, "unknown core instance %d: core instance index out of bounds", idx)
	}
	return s.coreInstanceExports[idx], nil
}

func (s *scope) valueAt(idx uint32, offset int) (*valueEntry, error) {
	if int(idx) >= len(s.values) {
		return nil, errors.Invalid(offset, "unknown value %d: value index out of bounds", idx)
	}
	return &s.values[idx], nil
}

func (s *scope) addImport(name string, entity wasm.ComponentEntity, offset int) error {
	if _, exists := s.imports[name]; exists {
		return errors.Invalid(offset, "duplicate import name %q already defined", name)
	}
	s.imports[name] = entity
	return nil
}

func (s *scope) addExport(name string, entity wasm.ComponentEntity, offset int) error {
	if _, exists := s.exports[name]; exists {
		return errors.Invalid(offset, "duplicate export name %q already defined", name)
	}
	s.exports[name] = entity
	return nil
}

// checkAllValuesUsed fails when any value was never consumed.
func (s *scope) checkAllValuesUsed(offset int) error {
	for idx, val := range s.values {
		if !val.used {
			return errors.Invalid(offset, "value index %d was not used", idx)
		}
	}
	return nil
}
