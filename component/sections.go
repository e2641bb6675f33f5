package component

import (
	"github.com/wippyai/wasm-toolkit/errors"
	"github.com/wippyai/wasm-toolkit/wasm"
)

func (v *Validator) typeSection(data []byte, offset int) error {
	current, err := v.current(offset)
	if err != nil {
		return err
	}
	items, err := decodeTypeSection(data, offset)
	if err != nil {
		return err
	}
	if len(current.types)+len(items) > wasm.MaxTypes {
		return errors.LimitExceeded(offset, "types", wasm.MaxTypes)
	}
	v.types.Reserve(len(items))
	for i := range items {
		if err := v.addType(current, &items[i]); err != nil {
			return err
		}
	}
	return nil
}

// addType interns one component type-section item into the shared type
// environment and appends it to the scope's type index space.
func (v *Validator) addType(current *scope, item *TypeItem) error {
	switch {
	case item.Func != nil:
		id, err := v.addFuncType(current, item.Func, item.Offset)
		if err != nil {
			return err
		}
		current.addType(id)
		return nil

	case item.IsInstance:
		id, err := v.addInstanceType(item.Instance, item.Offset)
		if err != nil {
			return err
		}
		current.addType(id)
		return nil

	case item.IsComponent:
		id, err := v.addComponentType(item.Component, item.Offset)
		if err != nil {
			return err
		}
		current.addType(id)
		return nil

	default:
		id, err := v.addDefinedType(current, item.Defined, item.Offset)
		if err != nil {
			return err
		}
		current.addType(id)
		return nil
	}
}

func (v *Validator) addFuncType(current *scope, ft *FuncType, offset int) (wasm.TypeID, error) {
	cft := &wasm.ComponentFuncType{
		ParamNames: make([]string, len(ft.Params)),
		HasResult:  ft.Result != nil,
	}
	for i, p := range ft.Params {
		cft.ParamNames[i] = p.Name
		needs, err := v.valTypeNeedsMemory(current, p.Type, offset)
		if err != nil {
			return 0, err
		}
		cft.NeedsMemory = cft.NeedsMemory || needs
	}
	if ft.Result != nil {
		needs, err := v.valTypeNeedsMemory(current, *ft.Result, offset)
		if err != nil {
			return 0, err
		}
		cft.NeedsMemory = cft.NeedsMemory || needs
	}
	return v.types.Push(wasm.TypeDef{Kind: wasm.TypeDefComponentFunc, ComponentFunc: cft}), nil
}

// valTypeNeedsMemory reports whether a value of this type crosses the
// canonical ABI through linear memory (strings, lists, and aggregates
// containing them).
func (v *Validator) valTypeNeedsMemory(current *scope, vt ValType, offset int) (bool, error) {
	if !vt.IsIndex {
		return vt.Primitive == primString, nil
	}
	id, err := current.typeAt(vt.TypeIndex, offset)
	if err != nil {
		return false, err
	}
	return v.needsMem[id], nil
}

func (v *Validator) addDefinedType(current *scope, dt *DefinedType, offset int) (wasm.TypeID, error) {
	needs := false
	check := func(vt *ValType) error {
		if vt == nil {
			return nil
		}
		n, err := v.valTypeNeedsMemory(current, *vt, offset)
		if err != nil {
			return err
		}
		needs = needs || n
		return nil
	}

	switch dt.Form {
	case formRecord:
		for i := range dt.Fields {
			if err := check(&dt.Fields[i].Type); err != nil {
				return 0, err
			}
		}
	case formVariant:
		for i := range dt.Cases {
			if err := check(dt.Cases[i].Type); err != nil {
				return 0, err
			}
			if dt.Cases[i].Refines != nil && int(*dt.Cases[i].Refines) >= i {
				return 0, errors.Invalid(offset, "variant case refines a later case")
			}
		}
	case formList:
		if err := check(dt.Elem); err != nil {
			return 0, err
		}
		needs = true
	case formTuple:
		for i := range dt.Types {
			if err := check(&dt.Types[i]); err != nil {
				return 0, err
			}
		}
	case formOption:
		if err := check(dt.Elem); err != nil {
			return 0, err
		}
	case formResult:
		if err := check(dt.OK); err != nil {
			return 0, err
		}
		if err := check(dt.Err); err != nil {
			return 0, err
		}
	case formOwn, formBorrow:
		if _, err := current.typeAt(dt.Target, offset); err != nil {
			return 0, err
		}
	default:
		needs = dt.Form == primString
	}

	id := v.types.Push(wasm.TypeDef{Kind: wasm.TypeDefValue, Value: &wasm.ComponentValType{Primitive: dt.Form}})
	if needs {
		v.needsMem[id] = true
	}
	return id, nil
}

// addInstanceType processes an instance type's declarations in a fresh
// scope and interns the resulting instance type.
func (v *Validator) addInstanceType(decls []Decl, offset int) (wasm.TypeID, error) {
	sub := newScope(scopeInstanceType)
	v.scopes = append(v.scopes, sub)
	err := v.processDecls(sub, decls, offset)
	v.scopes = v.scopes[:len(v.scopes)-1]
	if err != nil {
		return 0, err
	}
	it := &wasm.InstanceType{Exports: sub.exports}
	return v.types.Push(wasm.TypeDef{Kind: wasm.TypeDefInstance, Instance: it}), nil
}

// addComponentType processes a component type's declarations in a fresh
// scope and interns the resulting component type.
func (v *Validator) addComponentType(decls []Decl, offset int) (wasm.TypeID, error) {
	sub := newScope(scopeComponentType)
	v.scopes = append(v.scopes, sub)
	err := v.processDecls(sub, decls, offset)
	v.scopes = v.scopes[:len(v.scopes)-1]
	if err != nil {
		return 0, err
	}
	ct := &wasm.ComponentType{Imports: sub.imports, Exports: sub.exports}
	return v.types.Push(wasm.TypeDef{Kind: wasm.TypeDefComponent, Component: ct}), nil
}

func (v *Validator) processDecls(sub *scope, decls []Decl, offset int) error {
	for i := range decls {
		decl := &decls[i]
		switch {
		case decl.Type != nil:
			if err := v.addType(sub, decl.Type); err != nil {
				return err
			}
		case decl.Alias != nil:
			if err := v.processAlias(sub, *decl.Alias); err != nil {
				return err
			}
		case decl.Import != nil:
			entity, err := v.resolveExternDesc(sub, decl.Import.Desc, offset)
			if err != nil {
				return err
			}
			if err := sub.addImport(decl.Import.Name, entity, offset); err != nil {
				return err
			}
		case decl.Export != nil:
			entity, err := v.resolveExternDesc(sub, decl.Export.Desc, offset)
			if err != nil {
				return err
			}
			if err := sub.addExport(decl.Export.Name, entity, offset); err != nil {
				return err
			}
			// Exported types extend the declaring scope's type space.
			if entity.Kind == wasm.ComponentEntityType {
				sub.addType(entity.ID)
			}
		}
	}
	return nil
}

// resolveExternDesc resolves an extern descriptor against a scope.
func (v *Validator) resolveExternDesc(current *scope, desc ExternDesc, offset int) (wasm.ComponentEntity, error) {
	switch desc.Sort {
	case SortCore:
		id, err := current.typeAt(desc.TypeIndex, offset)
		if err != nil {
			// Core module types may live in the core type space.
			id, err = v.coreModuleTypeAt(current, desc.TypeIndex, offset)
			if err != nil {
				return wasm.ComponentEntity{}, err
			}
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityModule, ID: id}, nil
	case SortFunc:
		id, err := current.typeAt(desc.TypeIndex, offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		if def := v.types.Get(id); def == nil || def.Kind != wasm.TypeDefComponentFunc {
			return wasm.ComponentEntity{}, errors.Invalid(offset, "type index %d is not a function type", desc.TypeIndex)
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityFunc, ID: id}, nil
	case SortValue:
		id, err := current.typeAt(desc.TypeIndex, offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityValue, ID: id}, nil
	case SortType:
		if desc.HasBound && desc.BoundKind == 0x01 {
			// Sub-resource bound: a fresh abstract type.
			id := v.types.Push(wasm.TypeDef{Kind: wasm.TypeDefValue, Value: &wasm.ComponentValType{}})
			return wasm.ComponentEntity{Kind: wasm.ComponentEntityType, ID: id}, nil
		}
		id, err := current.typeAt(desc.TypeIndex, offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityType, ID: id}, nil
	case SortComponent:
		id, err := current.typeAt(desc.TypeIndex, offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		if def := v.types.Get(id); def == nil || def.Kind != wasm.TypeDefComponent {
			return wasm.ComponentEntity{}, errors.Invalid(offset, "type index %d is not a component type", desc.TypeIndex)
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityComponent, ID: id}, nil
	case SortInstance:
		id, err := current.typeAt(desc.TypeIndex, offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		if def := v.types.Get(id); def == nil || def.Kind != wasm.TypeDefInstance {
			return wasm.ComponentEntity{}, errors.Invalid(offset, "type index %d is not an instance type", desc.TypeIndex)
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityInstance, ID: id}, nil
	default:
		return wasm.ComponentEntity{}, errors.Malformed(offset, "invalid sort 0x%02x", desc.Sort)
	}
}

func (v *Validator) coreModuleTypeAt(current *scope, idx uint32, offset int) (wasm.TypeID, error) {
	if int(idx) >= len(current.coreTypes) {
		return 0, errors.Invalid(offset, "unknown core type %d: core type index out of bounds", idx)
	}
	id := current.coreTypes[idx]
	if def := v.types.Get(id); def == nil || def.Kind != wasm.TypeDefModule {
		return 0, errors.Invalid(offset, "core type index %d is not a module type", idx)
	}
	return id, nil
}

func (v *Validator) importSection(data []byte, offset int) error {
	current, err := v.current(offset)
	if err != nil {
		return err
	}
	imports, err := decodeImports(data, offset)
	if err != nil {
		return err
	}
	for _, imp := range imports {
		desc := ExternDesc{
			Sort:      imp.ExternKind,
			TypeIndex: imp.TypeIndex,
			HasBound:  imp.HasBound,
			BoundKind: imp.BoundKind,
		}
		if imp.ExternKind == SortCore {
			desc.CoreSort = CoreSortModule
		}
		entity, err := v.resolveExternDesc(current, desc, imp.Offset)
		if err != nil {
			return err
		}
		if err := current.addImport(imp.Name, entity, imp.Offset); err != nil {
			return err
		}
		// Imports extend the matching index space.
		switch entity.Kind {
		case wasm.ComponentEntityModule:
			current.coreModules = append(current.coreModules, entity.ID)
		case wasm.ComponentEntityFunc:
			current.funcs = append(current.funcs, entity.ID)
		case wasm.ComponentEntityInstance:
			current.instances = append(current.instances, entity.ID)
		case wasm.ComponentEntityComponent:
			current.components = append(current.components, entity.ID)
		case wasm.ComponentEntityType:
			current.addType(entity.ID)
		case wasm.ComponentEntityValue:
			def := v.types.Get(entity.ID)
			var vt wasm.ComponentValType
			if def != nil && def.Value != nil {
				vt = *def.Value
			}
			current.values = append(current.values, valueEntry{t: vt})
		}
	}
	return nil
}

func (v *Validator) exportSection(data []byte, offset int) error {
	current, err := v.current(offset)
	if err != nil {
		return err
	}
	exports, err := decodeExports(data, offset)
	if err != nil {
		return err
	}
	if len(current.exports)+len(exports) > wasm.MaxExports {
		return errors.LimitExceeded(offset, "exports", wasm.MaxExports)
	}
	for _, exp := range exports {
		entity, err := v.exportedEntity(current, exp)
		if err != nil {
			return err
		}
		if err := current.addExport(exp.Name, entity, exp.Offset); err != nil {
			return err
		}
		// An export re-enters its index space, giving the exported item a
		// fresh index.
		switch entity.Kind {
		case wasm.ComponentEntityFunc:
			current.funcs = append(current.funcs, entity.ID)
		case wasm.ComponentEntityType:
			current.addType(entity.ID)
		case wasm.ComponentEntityInstance:
			current.instances = append(current.instances, entity.ID)
		case wasm.ComponentEntityComponent:
			current.components = append(current.components, entity.ID)
		case wasm.ComponentEntityModule:
			current.coreModules = append(current.coreModules, entity.ID)
		}
	}
	return nil
}

func (v *Validator) exportedEntity(current *scope, exp Export) (wasm.ComponentEntity, error) {
	switch exp.Sort {
	case SortFunc:
		id, err := current.funcAt(exp.SortIndex, exp.Offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityFunc, ID: id}, nil
	case SortType:
		id, err := current.typeAt(exp.SortIndex, exp.Offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityType, ID: id}, nil
	case SortInstance:
		id, err := current.instanceAt(exp.SortIndex, exp.Offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityInstance, ID: id}, nil
	case SortComponent:
		id, err := current.componentAt(exp.SortIndex, exp.Offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityComponent, ID: id}, nil
	case SortValue:
		val, err := current.valueAt(exp.SortIndex, exp.Offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		val.used = true
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityValue}, nil
	case SortCore:
		if exp.CoreSort != CoreSortModule {
			return wasm.ComponentEntity{}, errors.Invalid(exp.Offset, "only core modules may be exported from a component")
		}
		id, err := current.coreModuleAt(exp.SortIndex, exp.Offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityModule, ID: id}, nil
	default:
		return wasm.ComponentEntity{}, errors.Malformed(exp.Offset, "invalid export sort 0x%02x", exp.Sort)
	}
}

func (v *Validator) aliasSection(data []byte, offset int) error {
	current, err := v.current(offset)
	if err != nil {
		return err
	}
	aliases, err := decodeAliases(data, offset)
	if err != nil {
		return err
	}
	for _, alias := range aliases {
		if err := v.processAlias(current, alias); err != nil {
			return err
		}
	}
	return nil
}

// processAlias resolves one alias into the current scope.
func (v *Validator) processAlias(current *scope, alias Alias) error {
	switch alias.TargetKind {
	case AliasTargetCoreExport:
		if alias.Sort != SortCore {
			return errors.Invalid(alias.Offset, "core export alias must use a core sort")
		}
		exports, err := current.coreInstanceAt(alias.Instance, alias.Offset)
		if err != nil {
			return err
		}
		et, ok := exports[alias.Name]
		if !ok {
			return errors.Invalid(alias.Offset, "core instance has no export named %q", alias.Name)
		}
		return v.addCoreAlias(current, alias, et)

	case AliasTargetExport:
		instID, err := current.instanceAt(alias.Instance, alias.Offset)
		if err != nil {
			return err
		}
		def := v.types.Get(instID)
		if def == nil || def.Kind != wasm.TypeDefInstance {
			return errors.Invalid(alias.Offset, "instance %d has no instance type", alias.Instance)
		}
		entity, ok := def.Instance.Exports[alias.Name]
		if !ok {
			return errors.Invalid(alias.Offset, "instance has no export named %q", alias.Name)
		}
		return v.addAliasedEntity(current, alias, entity)

	case AliasTargetOuter:
		if int(alias.OuterCount) >= len(v.scopes) {
			return errors.Invalid(alias.Offset, "invalid outer alias count %d", alias.OuterCount)
		}
		outer := v.scopes[len(v.scopes)-1-int(alias.OuterCount)]
		switch alias.Sort {
		case SortType:
			id, err := outer.typeAt(alias.OuterIndex, alias.Offset)
			if err != nil {
				return err
			}
			current.addType(id)
			return nil
		case SortComponent:
			id, err := outer.componentAt(alias.OuterIndex, alias.Offset)
			if err != nil {
				return err
			}
			current.components = append(current.components, id)
			return nil
		case SortCore:
			if alias.CoreSort == CoreSortModule {
				id, err := outer.coreModuleAt(alias.OuterIndex, alias.Offset)
				if err != nil {
					return err
				}
				current.coreModules = append(current.coreModules, id)
				return nil
			}
			if alias.CoreSort == CoreSortType {
				if int(alias.OuterIndex) >= len(outer.coreTypes) {
					return errors.Invalid(alias.Offset, "unknown core type %d: core type index out of bounds", alias.OuterIndex)
				}
				current.coreTypes = append(current.coreTypes, outer.coreTypes[alias.OuterIndex])
				return nil
			}
			return errors.Invalid(alias.Offset, "outer aliases may only target types, modules, and components")
		default:
			return errors.Invalid(alias.Offset, "outer aliases may only target types, modules, and components")
		}

	default:
		return errors.Malformed(alias.Offset, "invalid alias target kind 0x%02x", alias.TargetKind)
	}
}

func (v *Validator) addCoreAlias(current *scope, alias Alias, et wasm.EntityType) error {
	switch alias.CoreSort {
	case CoreSortFunc:
		if et.Kind != wasm.KindFunc {
			return errors.Invalid(alias.Offset, "export %q is not a core function", alias.Name)
		}
		current.coreFuncs = append(current.coreFuncs, et.Func)
	case CoreSortTable:
		if et.Kind != wasm.KindTable {
			return errors.Invalid(alias.Offset, "export %q is not a table", alias.Name)
		}
		current.coreTables++
	case CoreSortMemory:
		if et.Kind != wasm.KindMemory {
			return errors.Invalid(alias.Offset, "export %q is not a memory", alias.Name)
		}
		current.coreMemories++
	case CoreSortGlobal:
		if et.Kind != wasm.KindGlobal {
			return errors.Invalid(alias.Offset, "export %q is not a global", alias.Name)
		}
		current.coreGlobals++
	default:
		return errors.Malformed(alias.Offset, "invalid core sort 0x%02x in alias", alias.CoreSort)
	}
	return nil
}

func (v *Validator) addAliasedEntity(current *scope, alias Alias, entity wasm.ComponentEntity) error {
	switch alias.Sort {
	case SortFunc:
		if entity.Kind != wasm.ComponentEntityFunc {
			return errors.Invalid(alias.Offset, "export %q is not a function", alias.Name)
		}
		current.funcs = append(current.funcs, entity.ID)
	case SortType:
		if entity.Kind != wasm.ComponentEntityType {
			return errors.Invalid(alias.Offset, "export %q is not a type", alias.Name)
		}
		current.addType(entity.ID)
	case SortInstance:
		if entity.Kind != wasm.ComponentEntityInstance {
			return errors.Invalid(alias.Offset, "export %q is not an instance", alias.Name)
		}
		current.instances = append(current.instances, entity.ID)
	case SortComponent:
		if entity.Kind != wasm.ComponentEntityComponent {
			return errors.Invalid(alias.Offset, "export %q is not a component", alias.Name)
		}
		current.components = append(current.components, entity.ID)
	default:
		return errors.Invalid(alias.Offset, "invalid alias sort 0x%02x", alias.Sort)
	}
	return nil
}

func (v *Validator) canonSection(data []byte, offset int) error {
	current, err := v.current(offset)
	if err != nil {
		return err
	}
	canons, err := decodeCanons(data, offset)
	if err != nil {
		return err
	}
	for _, canon := range canons {
		switch canon.Kind {
		case CanonLift:
			if err := v.canonLift(current, canon); err != nil {
				return err
			}
		case CanonLower:
			if err := v.canonLower(current, canon); err != nil {
				return err
			}
		case CanonResourceNew, CanonResourceDrop, CanonResourceRep:
			if _, err := current.typeAt(canon.Resource, canon.Offset); err != nil {
				return err
			}
			// Resource intrinsics produce core functions.
			id := v.types.PushFunc(&wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
			current.coreFuncs = append(current.coreFuncs, id)
		}
	}
	return nil
}

// canonLift turns a core function into a component function under a declared
// component function type, validating the canonical options against the
// signature's needs.
func (v *Validator) canonLift(current *scope, canon Canon) error {
	if _, err := current.coreFuncAt(canon.FuncIndex, canon.Offset); err != nil {
		return err
	}
	typeID, err := current.typeAt(canon.TypeIndex, canon.Offset)
	if err != nil {
		return err
	}
	def := v.types.Get(typeID)
	if def == nil || def.Kind != wasm.TypeDefComponentFunc {
		return errors.Invalid(canon.Offset, "canonical lift type index %d is not a function type", canon.TypeIndex)
	}
	if err := v.checkCanonOptions(current, canon, def.ComponentFunc.NeedsMemory); err != nil {
		return err
	}
	current.funcs = append(current.funcs, typeID)
	return nil
}

// canonLower turns a component function into a core function.
func (v *Validator) canonLower(current *scope, canon Canon) error {
	funcID, err := current.funcAt(canon.FuncIndex, canon.Offset)
	if err != nil {
		return err
	}
	def := v.types.Get(funcID)
	needsMemory := def != nil && def.Kind == wasm.TypeDefComponentFunc && def.ComponentFunc.NeedsMemory
	if err := v.checkCanonOptions(current, canon, needsMemory); err != nil {
		return err
	}
	// The lowered core signature depends on flattening; it is recorded as an
	// opaque core function.
	id := v.types.PushFunc(&wasm.FuncType{})
	current.coreFuncs = append(current.coreFuncs, id)
	return nil
}

// checkCanonOptions enforces the canonical option rules: at most one string
// encoding, indices in range, and memory present whenever the signature moves
// data through linear memory. A realloc option is range-checked when given but
// is never required.
func (v *Validator) checkCanonOptions(current *scope, canon Canon, needsMemory bool) error {
	var hasEncoding, hasMemory, hasRealloc bool
	for _, opt := range canon.Options {
		switch opt.Kind {
		case CanonOptUTF8, CanonOptUTF16, CanonOptCompactUTF16:
			if hasEncoding {
				return errors.Invalid(canon.Offset, "canonical encoding option specified twice")
			}
			hasEncoding = true
		case CanonOptMemory:
			if hasMemory {
				return errors.Invalid(canon.Offset, "canonical option `memory` specified twice")
			}
			if int(opt.Index) >= current.coreMemories {
				return errors.Invalid(canon.Offset, "unknown memory %d: memory index out of bounds", opt.Index)
			}
			hasMemory = true
		case CanonOptRealloc:
			if hasRealloc {
				return errors.Invalid(canon.Offset, "canonical option `realloc` specified twice")
			}
			if _, err := current.coreFuncAt(opt.Index, canon.Offset); err != nil {
				return err
			}
			hasRealloc = true
		case CanonOptPostReturn:
			if canon.Kind == CanonLower {
				return errors.Invalid(canon.Offset, "canonical option `post-return` is not allowed on lower")
			}
			if _, err := current.coreFuncAt(opt.Index, canon.Offset); err != nil {
				return err
			}
		}
	}
	if needsMemory && !hasMemory {
		return errors.Invalid(canon.Offset, "canonical option `memory` is required")
	}
	return nil
}

func (v *Validator) instanceSection(data []byte, offset int) error {
	current, err := v.current(offset)
	if err != nil {
		return err
	}
	instances, err := decodeInstances(data, offset)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if len(current.instances) >= wasm.MaxInstances {
			return errors.LimitExceeded(inst.Offset, "instances", wasm.MaxInstances)
		}
		if inst.Instantiate {
			if err := v.instantiateComponent(current, inst); err != nil {
				return err
			}
		} else {
			exports := make(map[string]wasm.ComponentEntity, len(inst.Exports))
			for _, exp := range inst.Exports {
				entity, err := v.exportedEntity(current, Export{
					Name:      exp.Name,
					Sort:      exp.Sort,
					CoreSort:  exp.CoreSort,
					SortIndex: exp.Index,
					Offset:    inst.Offset,
				})
				if err != nil {
					return err
				}
				if _, exists := exports[exp.Name]; exists {
					return errors.Invalid(inst.Offset, "duplicate export name %q already defined", exp.Name)
				}
				exports[exp.Name] = entity
			}
			it := &wasm.InstanceType{Exports: exports}
			id := v.types.Push(wasm.TypeDef{Kind: wasm.TypeDefInstance, Instance: it})
			current.instances = append(current.instances, id)
		}
	}
	return nil
}

// instantiateComponent checks a component instantiation: every import of
// the target component must be satisfied by an argument of a matching kind.
func (v *Validator) instantiateComponent(current *scope, inst Instance) error {
	compID, err := current.componentAt(inst.ComponentIdx, inst.Offset)
	if err != nil {
		return err
	}
	def := v.types.Get(compID)
	if def == nil || def.Kind != wasm.TypeDefComponent {
		return errors.Invalid(inst.Offset, "instance target %d is not a component", inst.ComponentIdx)
	}

	args := make(map[string]wasm.ComponentEntity, len(inst.Args))
	for _, arg := range inst.Args {
		entity, err := v.resolveInstanceArg(current, arg, inst.Offset)
		if err != nil {
			return err
		}
		if _, exists := args[arg.Name]; exists {
			return errors.Invalid(inst.Offset, "duplicate instantiation argument name %q", arg.Name)
		}
		args[arg.Name] = entity
	}

	for name, imp := range def.Component.Imports {
		arg, ok := args[name]
		if !ok {
			return errors.Invalid(inst.Offset, "missing import named %q", name)
		}
		if arg.Kind != imp.Kind {
			return errors.Invalid(inst.Offset, "import %q has the wrong kind of argument", name)
		}
	}

	// The resulting instance exposes the component's exports.
	it := &wasm.InstanceType{Exports: def.Component.Exports}
	id := v.types.Push(wasm.TypeDef{Kind: wasm.TypeDefInstance, Instance: it})
	current.instances = append(current.instances, id)
	return nil
}

func (v *Validator) resolveInstanceArg(current *scope, arg InstanceArg, offset int) (wasm.ComponentEntity, error) {
	switch arg.Sort {
	case SortFunc:
		id, err := current.funcAt(arg.Index, offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityFunc, ID: id}, nil
	case SortValue:
		val, err := current.valueAt(arg.Index, offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		val.used = true
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityValue}, nil
	case SortType:
		id, err := current.typeAt(arg.Index, offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityType, ID: id}, nil
	case SortInstance:
		id, err := current.instanceAt(arg.Index, offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityInstance, ID: id}, nil
	case SortComponent:
		id, err := current.componentAt(arg.Index, offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityComponent, ID: id}, nil
	case SortCore:
		if arg.CoreSort != CoreSortModule {
			return wasm.ComponentEntity{}, errors.Invalid(offset, "only core modules may be instantiation arguments")
		}
		id, err := current.coreModuleAt(arg.Index, offset)
		if err != nil {
			return wasm.ComponentEntity{}, err
		}
		return wasm.ComponentEntity{Kind: wasm.ComponentEntityModule, ID: id}, nil
	default:
		return wasm.ComponentEntity{}, errors.Malformed(offset, "invalid instantiation argument sort 0x%02x", arg.Sort)
	}
}

// startSection validates the component start function: value arguments are
// consumed from the scope's value pool and results bind fresh values.
func (v *Validator) startSection(data []byte, offset int) error {
	current, err := v.current(offset)
	if err != nil {
		return err
	}
	start, err := decodeStart(data, offset)
	if err != nil {
		return err
	}

	funcID, err := current.funcAt(start.FuncIndex, start.Offset)
	if err != nil {
		return err
	}
	def := v.types.Get(funcID)
	if def == nil || def.Kind != wasm.TypeDefComponentFunc {
		return errors.Invalid(start.Offset, "start function %d is not a component function", start.FuncIndex)
	}
	if len(start.Args) != len(def.ComponentFunc.ParamNames) {
		return errors.Invalid(start.Offset, "start function requires %d arguments but %d were given",
			len(def.ComponentFunc.ParamNames), len(start.Args))
	}
	for _, argIdx := range start.Args {
		val, err := current.valueAt(argIdx, start.Offset)
		if err != nil {
			return err
		}
		val.used = true
	}

	wantResults := uint32(0)
	if def.ComponentFunc.HasResult {
		wantResults = 1
	}
	if start.Results != wantResults {
		return errors.Invalid(start.Offset, "start function declares %d results but its type has %d", start.Results, wantResults)
	}
	for i := uint32(0); i < start.Results; i++ {
		if len(current.values) >= wasm.MaxValues {
			return errors.LimitExceeded(start.Offset, "values", wasm.MaxValues)
		}
		current.values = append(current.values, valueEntry{})
	}
	return nil
}
