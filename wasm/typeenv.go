package wasm

// TypeID is a dense identifier into the type environment.
type TypeID uint32

// TypeDefKind identifies what a type definition describes.
type TypeDefKind byte

const (
	TypeDefFunc          TypeDefKind = iota // Core function signature
	TypeDefModule                           // Core module type (imports + exports)
	TypeDefInstance                         // Instance type (exports only)
	TypeDefComponent                        // Component type (imports + exports)
	TypeDefValue                            // Component value type
	TypeDefComponentFunc                    // Component-level function signature
	TypeDefAlias                            // Alias to another definition
)

// EntityType describes an importable or exportable entity by kind plus its
// kind-specific payload.
type EntityType struct {
	Kind    byte // KindFunc, KindTable, KindMemory, KindGlobal, KindTag
	Func    TypeID
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	Tag     TypeID
}

// ModuleType describes a core module's imports and exports.
type ModuleType struct {
	Imports map[string]EntityType // keyed "module\x00name"
	Exports map[string]EntityType
}

// InstanceType describes an instance by its exports.
type InstanceType struct {
	Exports map[string]ComponentEntity
}

// ComponentType describes a component's imports and exports.
type ComponentType struct {
	Imports map[string]ComponentEntity
	Exports map[string]ComponentEntity
}

// ComponentEntityKind identifies the kind of a component-level entity.
type ComponentEntityKind byte

const (
	ComponentEntityModule ComponentEntityKind = iota
	ComponentEntityComponent
	ComponentEntityInstance
	ComponentEntityFunc
	ComponentEntityValue
	ComponentEntityType
)

// ComponentEntity describes a component-level importable/exportable item.
type ComponentEntity struct {
	Kind ComponentEntityKind
	ID   TypeID
}

// ComponentFuncType describes a component-level function signature at the
// granularity validation needs: parameter names, arity, and whether lifting
// or lowering the signature requires access to linear memory.
type ComponentFuncType struct {
	ParamNames  []string
	HasResult   bool
	NeedsMemory bool
}

// ComponentValType is a component value type: a primitive byte or a
// reference to a defined type.
type ComponentValType struct {
	Primitive byte
	TypeID    TypeID
}

// TypeDef is one entry in the type environment.
type TypeDef struct {
	Func          *FuncType
	Module        *ModuleType
	Instance      *InstanceType
	Component     *ComponentType
	ComponentFunc *ComponentFuncType
	Value         *ComponentValType
	Alias         TypeID
	Kind          TypeDefKind
}

// TypeList is the append-only global pool of interned type definitions.
// Definitions are indexed by dense TypeIDs; a definition, once pushed, never
// changes. Commit produces an immutable snapshot of the current prefix.
type TypeList struct {
	defs []TypeDef
}

// NewTypeList creates an empty type environment.
func NewTypeList() *TypeList {
	return &TypeList{}
}

// Len returns the number of definitions.
func (l *TypeList) Len() int {
	return len(l.defs)
}

// Reserve hints capacity for n additional definitions.
func (l *TypeList) Reserve(n int) {
	if cap(l.defs)-len(l.defs) < n {
		defs := make([]TypeDef, len(l.defs), len(l.defs)+n)
		copy(defs, l.defs)
		l.defs = defs
	}
}

// Push appends a definition and returns its ID.
func (l *TypeList) Push(def TypeDef) TypeID {
	id := TypeID(len(l.defs))
	l.defs = append(l.defs, def)
	return id
}

// PushFunc appends a function signature definition.
func (l *TypeList) PushFunc(ft *FuncType) TypeID {
	return l.Push(TypeDef{Kind: TypeDefFunc, Func: ft})
}

// Get returns the definition for an ID, or nil when out of range.
func (l *TypeList) Get(id TypeID) *TypeDef {
	if int(id) >= len(l.defs) {
		return nil
	}
	return &l.defs[id]
}

// FuncAt returns the function signature behind an ID, following one level of
// alias, or nil when the ID does not name a function.
func (l *TypeList) FuncAt(id TypeID) *FuncType {
	def := l.Get(id)
	if def == nil {
		return nil
	}
	if def.Kind == TypeDefAlias {
		def = l.Get(def.Alias)
		if def == nil {
			return nil
		}
	}
	if def.Kind != TypeDefFunc {
		return nil
	}
	return def.Func
}

// Commit freezes the current prefix into a snapshot. The snapshot shares the
// backing storage: the list only ever appends, so entries below the
// snapshot's length are never written again and the snapshot is safe to read
// from other goroutines while the live list keeps growing.
func (l *TypeList) Commit() *Snapshot {
	return &Snapshot{defs: l.defs[:len(l.defs):len(l.defs)]}
}

// Snapshot is an immutable prefix of a type environment, cheaply shareable
// across goroutines.
type Snapshot struct {
	defs []TypeDef
}

// Len returns the number of definitions in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.defs)
}

// Get returns the definition for an ID, or nil when out of range.
func (s *Snapshot) Get(id TypeID) *TypeDef {
	if int(id) >= len(s.defs) {
		return nil
	}
	return &s.defs[id]
}

// FuncAt returns the function signature behind an ID, or nil.
func (s *Snapshot) FuncAt(id TypeID) *FuncType {
	def := s.Get(id)
	if def == nil {
		return nil
	}
	if def.Kind == TypeDefAlias {
		def = s.Get(def.Alias)
		if def == nil {
			return nil
		}
	}
	if def.Kind != TypeDefFunc {
		return nil
	}
	return def.Func
}
