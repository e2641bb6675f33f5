package component

import (
	"github.com/wippyai/wasm-toolkit/errors"
	"github.com/wippyai/wasm-toolkit/wasm"
)

type validatorState byte

const (
	stateUnparsed validatorState = iota
	stateComponent
	stateEnd
)

// Validator consumes parser payloads for a component. It maintains a stack
// of scopes for nested components and delegates nested core modules to the
// wasm package's module validator. All types are interned into one shared
// type environment.
type Validator struct {
	features wasm.Features
	types    *wasm.TypeList
	scopes   []*scope
	state    validatorState

	// nested is the validator of the core module currently being parsed.
	nested *wasm.Validator

	// pending is the encoding the next version header must carry, set when
	// a nested module or component section is entered.
	pending *wasm.Encoding

	// needsMem records which defined types require linear memory access
	// when crossing the canonical ABI.
	needsMem map[wasm.TypeID]bool
}

// Result is the outcome of validating one payload.
type Result struct {
	Func   *wasm.FuncValidator
	Types  *wasm.Types
	Parser *wasm.Parser
}

// NewValidator creates a component validator with the default features plus
// the component model enabled.
func NewValidator() *Validator {
	f := wasm.DefaultFeatures()
	f.ComponentModel = true
	return NewValidatorWithFeatures(f)
}

// NewValidatorWithFeatures creates a component validator with the given
// feature flags.
func NewValidatorWithFeatures(features wasm.Features) *Validator {
	return &Validator{
		features: features,
		types:    wasm.NewTypeList(),
		needsMem: make(map[wasm.TypeID]bool),
	}
}

// Validate checks a complete component binary, including nested modules and
// components, validating function bodies inline.
func Validate(data []byte) (*wasm.Types, error) {
	v := NewValidator()
	parsers := []*wasm.Parser{wasm.NewParser(data)}
	for {
		p := parsers[len(parsers)-1]
		payload, err := p.Next()
		if err != nil {
			return nil, err
		}
		res, err := v.Payload(payload)
		if err != nil {
			return nil, err
		}
		if res.Func != nil {
			if err := res.Func.Validate(); err != nil {
				return nil, err
			}
		}
		if res.Parser != nil {
			parsers = append(parsers, res.Parser)
		}
		if _, ok := payload.(wasm.End); ok {
			if len(parsers) == 1 {
				if res.Types == nil {
					return nil, errors.Invalid(0, "component did not produce a result")
				}
				return res.Types, nil
			}
			parsers = parsers[:len(parsers)-1]
		}
	}
}

func (v *Validator) current(offset int) (*scope, error) {
	if len(v.scopes) == 0 {
		return nil, errors.Invalid(offset, "no component scope")
	}
	return v.scopes[len(v.scopes)-1], nil
}

// Payload validates a single parser payload. Payloads of nested core
// modules are routed to the module validator transparently.
func (v *Validator) Payload(payload wasm.Payload) (Result, error) {
	if v.nested != nil {
		if _, isVersion := payload.(wasm.Version); !isVersion {
			res, err := v.nested.Payload(payload)
			if err != nil {
				return Result{}, err
			}
			if res.Types != nil {
				if err := v.finishNestedModule(); err != nil {
					return Result{}, err
				}
				return Result{}, nil
			}
			return Result{Func: res.Func}, nil
		}
	}

	switch p := payload.(type) {
	case wasm.Version:
		return Result{}, v.version(p)
	case wasm.ModuleSection:
		return v.moduleSection(p)
	case wasm.ComponentSection:
		return v.componentSection(p)
	case wasm.ComponentSectionRaw:
		return Result{}, v.section(p)
	case wasm.CustomSection:
		return Result{}, nil
	case wasm.UnknownSection:
		return Result{}, errors.Malformed(p.Range.Start, "malformed section id: %d", p.ID)
	case wasm.End:
		return v.end(p.Offset)
	default:
		return Result{}, errors.Invalid(0, "unexpected module payload while parsing a component")
	}
}

func (v *Validator) version(p wasm.Version) error {
	if v.pending != nil {
		expected := *v.pending
		v.pending = nil
		if p.Encoding != expected {
			return errors.Invalid(p.Range.Start, "expected a version header for a %s", expected)
		}
		if expected == wasm.EncodingModule {
			v.nested = wasm.NewValidatorWithTypes(v.features, v.types)
			_, err := v.nested.Payload(p)
			return err
		}
		// Nested component: push a fresh scope.
		v.scopes = append(v.scopes, newScope(scopeComponent))
		return nil
	}

	if v.state != stateUnparsed {
		return errors.Invalid(p.Range.Start, "wasm version header out of order")
	}
	if p.Encoding != wasm.EncodingComponent {
		return errors.Invalid(p.Range.Start, "expected a version header for a component")
	}
	if !v.features.ComponentModel {
		return errors.Unsupported(p.Range.Start, "WebAssembly component model feature not enabled")
	}
	v.state = stateComponent
	v.scopes = append(v.scopes, newScope(scopeComponent))
	return nil
}

func (v *Validator) finishNestedModule() error {
	mt := v.nested.ModuleType()
	v.nested = nil
	if mt == nil {
		return errors.Invalid(0, "nested module did not finish validation")
	}
	current, err := v.current(0)
	if err != nil {
		return err
	}
	id := v.types.Push(wasm.TypeDef{Kind: wasm.TypeDefModule, Module: mt})
	current.coreModules = append(current.coreModules, id)
	return nil
}

func (v *Validator) moduleSection(p wasm.ModuleSection) (Result, error) {
	current, err := v.current(p.Range.Start)
	if err != nil {
		return Result{}, err
	}
	if len(current.coreModules) >= wasm.MaxModules {
		return Result{}, errors.LimitExceeded(p.Range.Start, "modules", wasm.MaxModules)
	}
	enc := wasm.EncodingModule
	v.pending = &enc
	return Result{Parser: p.Parser}, nil
}

func (v *Validator) componentSection(p wasm.ComponentSection) (Result, error) {
	current, err := v.current(p.Range.Start)
	if err != nil {
		return Result{}, err
	}
	if len(current.components) >= wasm.MaxComponents {
		return Result{}, errors.LimitExceeded(p.Range.Start, "components", wasm.MaxComponents)
	}
	enc := wasm.EncodingComponent
	v.pending = &enc
	return Result{Parser: p.Parser}, nil
}

func (v *Validator) section(p wasm.ComponentSectionRaw) error {
	if v.state != stateComponent {
		return errors.Invalid(p.Range.Start, "unexpected component section")
	}
	switch p.ID {
	case wasm.ComponentSectionCoreType:
		return v.coreTypeSection(p.Contents, p.Range.Start)
	case wasm.ComponentSectionCoreInstance:
		return v.coreInstanceSection(p.Contents, p.Range.Start)
	case wasm.ComponentSectionType:
		return v.typeSection(p.Contents, p.Range.Start)
	case wasm.ComponentSectionImport:
		return v.importSection(p.Contents, p.Range.Start)
	case wasm.ComponentSectionExport:
		return v.exportSection(p.Contents, p.Range.Start)
	case wasm.ComponentSectionAlias:
		return v.aliasSection(p.Contents, p.Range.Start)
	case wasm.ComponentSectionCanon:
		return v.canonSection(p.Contents, p.Range.Start)
	case wasm.ComponentSectionInstance:
		return v.instanceSection(p.Contents, p.Range.Start)
	case wasm.ComponentSectionStart:
		return v.startSection(p.Contents, p.Range.Start)
	default:
		return errors.Malformed(p.Range.Start, "malformed section id: %d", p.ID)
	}
}

func (v *Validator) coreTypeSection(data []byte, offset int) error {
	current, err := v.current(offset)
	if err != nil {
		return err
	}
	types, err := decodeCoreTypes(data, offset)
	if err != nil {
		return err
	}
	for _, ct := range types {
		var id wasm.TypeID
		if ct.Func != nil {
			ft := ct.Func
			id = v.types.PushFunc(ft)
		} else {
			id = v.types.Push(wasm.TypeDef{Kind: wasm.TypeDefModule, Module: ct.Module})
		}
		current.coreTypes = append(current.coreTypes, id)
	}
	return nil
}

func (v *Validator) coreInstanceSection(data []byte, offset int) error {
	current, err := v.current(offset)
	if err != nil {
		return err
	}
	instances, err := decodeCoreInstances(data, offset)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if len(current.coreInstanceExports) >= wasm.MaxInstances {
			return errors.LimitExceeded(inst.Offset, "instances", wasm.MaxInstances)
		}
		if inst.Instantiate {
			moduleID, err := current.coreModuleAt(inst.ModuleIdx, inst.Offset)
			if err != nil {
				return err
			}
			def := v.types.Get(moduleID)
			if def == nil || def.Kind != wasm.TypeDefModule {
				return errors.Invalid(inst.Offset, "core instance target %d is not a module", inst.ModuleIdx)
			}
			args := make(map[string]map[string]wasm.EntityType, len(inst.Args))
			for _, arg := range inst.Args {
				exports, err := current.coreInstanceAt(arg.Index, inst.Offset)
				if err != nil {
					return err
				}
				args[arg.Name] = exports
			}
			// Every two-level import must be satisfied by an argument
			// instance exporting the item's name.
			for key := range def.Module.Imports {
				moduleName, itemName := splitImportKey(key)
				exports, ok := args[moduleName]
				if !ok {
					return errors.Invalid(inst.Offset, "missing module instantiation argument named %q", moduleName)
				}
				if _, ok := exports[itemName]; !ok {
					return errors.Invalid(inst.Offset, "module instantiation argument %q does not export %q", moduleName, itemName)
				}
			}
			current.coreInstanceExports = append(current.coreInstanceExports, def.Module.Exports)
		} else {
			exports := make(map[string]wasm.EntityType, len(inst.Exports))
			for _, exp := range inst.Exports {
				et, err := v.coreEntityFor(current, exp.CoreSort, exp.Index, inst.Offset)
				if err != nil {
					return err
				}
				if _, exists := exports[exp.Name]; exists {
					return errors.Invalid(inst.Offset, "duplicate export name %q already defined", exp.Name)
				}
				exports[exp.Name] = et
			}
			current.coreInstanceExports = append(current.coreInstanceExports, exports)
		}
	}
	return nil
}

func splitImportKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func (v *Validator) coreEntityFor(current *scope, coreSort byte, idx uint32, offset int) (wasm.EntityType, error) {
	switch coreSort {
	case CoreSortFunc:
		id, err := current.coreFuncAt(idx, offset)
		if err != nil {
			return wasm.EntityType{}, err
		}
		return wasm.EntityType{Kind: wasm.KindFunc, Func: id}, nil
	case CoreSortTable:
		if int(idx) >= current.coreTables {
			return wasm.EntityType{}, errors.Invalid(offset, "unknown table %d: table index out of bounds", idx)
		}
		return wasm.EntityType{Kind: wasm.KindTable}, nil
	case CoreSortMemory:
		if int(idx) >= current.coreMemories {
			return wasm.EntityType{}, errors.Invalid(offset, "unknown memory %d: memory index out of bounds", idx)
		}
		return wasm.EntityType{Kind: wasm.KindMemory}, nil
	case CoreSortGlobal:
		if int(idx) >= current.coreGlobals {
			return wasm.EntityType{}, errors.Invalid(offset, "unknown global %d: global index out of bounds", idx)
		}
		return wasm.EntityType{Kind: wasm.KindGlobal}, nil
	default:
		return wasm.EntityType{}, errors.Malformed(offset, "invalid core sort 0x%02x in inline export", coreSort)
	}
}

func (v *Validator) end(offset int) (Result, error) {
	if v.state != stateComponent || len(v.scopes) == 0 {
		return Result{}, errors.Invalid(offset, "unexpected end of component")
	}

	finished := v.scopes[len(v.scopes)-1]
	if err := finished.checkAllValuesUsed(offset); err != nil {
		return Result{}, err
	}

	if len(v.scopes) > 1 {
		// A nested component closed: absorb its type into the parent.
		v.scopes = v.scopes[:len(v.scopes)-1]
		parent := v.scopes[len(v.scopes)-1]
		ct := &wasm.ComponentType{
			Imports: finished.imports,
			Exports: finished.exports,
		}
		id := v.types.Push(wasm.TypeDef{Kind: wasm.TypeDefComponent, Component: ct})
		parent.components = append(parent.components, id)
		return Result{}, nil
	}

	v.state = stateEnd
	v.scopes = nil
	types := wasm.TypesFromComponent(v.types.Commit(), wasm.ComponentInfo{
		Types:      len(finished.types),
		Funcs:      len(finished.funcs),
		Modules:    len(finished.coreModules),
		Components: len(finished.components),
		Instances:  len(finished.instances) + len(finished.coreInstanceExports),
		Values:     len(finished.values),
	})
	return Result{Types: types}, nil
}
