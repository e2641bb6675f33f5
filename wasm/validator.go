package wasm

import (
	"github.com/wippyai/wasm-toolkit/errors"
)

// Validator consumes parser payloads for a core module and checks them
// against the structural type system. Payloads must be fed in source order.
type Validator struct {
	features Features
	types    *TypeList
	module   *moduleState
	state    validatorState
}

type validatorState byte

const (
	validatorUnparsed validatorState = iota
	validatorModule
	validatorEnd
)

// Section order ranks. Canonical order differs from raw section IDs: the tag
// section sits between memory and global, and data count precedes code.
type sectionOrder int

const (
	orderInitial sectionOrder = iota
	orderType
	orderImport
	orderFunction
	orderTable
	orderMemory
	orderTag
	orderGlobal
	orderExport
	orderStart
	orderElement
	orderDataCount
	orderCode
	orderData
)

// moduleState accumulates the per-module index spaces as sections arrive.
type moduleState struct {
	order sectionOrder

	types    []TypeID
	funcs    []TypeID // type ID per function, imports first
	tables   []TableType
	memories []MemoryType
	globals  []GlobalType
	tags     []TypeID
	elements []ValType // element type per segment

	numImportedFuncs    int
	numImportedGlobals  int
	numImportedTables   int
	numImportedMemories int
	numImportedTags     int

	imports []Import
	exports map[string]Export
	start   *uint32

	declaredFuncs map[uint32]struct{}

	dataCount          *uint32
	dataSegmentCount   uint32
	sawDataSection     bool
	expectedCodeBodies *uint32
	codeEntryIndex     uint32

	snapshot *Snapshot
}

func newModuleState() *moduleState {
	return &moduleState{
		exports:       make(map[string]Export),
		declaredFuncs: make(map[uint32]struct{}),
	}
}

func (m *moduleState) updateOrder(order sectionOrder, offset int) error {
	if order <= m.order {
		return errors.Invalid(offset, "section out of order")
	}
	m.order = order
	return nil
}

// ValidPayload is the result of validating one payload. At most one field is
// set: Func for code entries, Types at End. Parser is never set by this
// validator, which rejects nested module and component payloads.
type ValidPayload struct {
	Func   *FuncValidator
	Types  *Types
	Parser *Parser
}

// NewValidator creates a validator with the default feature set.
func NewValidator() *Validator {
	return NewValidatorWithFeatures(DefaultFeatures())
}

// NewValidatorWithFeatures creates a validator with the given feature flags.
func NewValidatorWithFeatures(features Features) *Validator {
	return &Validator{features: features, types: NewTypeList()}
}

// NewValidatorWithTypes creates a validator that appends into a shared type
// environment. The component validator uses this for nested modules.
func NewValidatorWithTypes(features Features, types *TypeList) *Validator {
	return &Validator{features: features, types: types}
}

// Features returns the validator's feature flags.
func (v *Validator) Features() *Features {
	return &v.features
}

// TypeList returns the shared type environment.
func (v *Validator) TypeList() *TypeList {
	return v.types
}

// Validate checks a complete module binary, validating function bodies
// inline, and returns the resulting type information.
func Validate(data []byte) (*Types, error) {
	return NewValidator().ValidateAll(data)
}

// ValidateAll drives a parser over the whole buffer, feeding every payload
// through the validator and validating each function body inline.
func (v *Validator) ValidateAll(data []byte) (*Types, error) {
	p := NewParser(data)
	for {
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
		if res.Types != nil {
			return res.Types, nil
		}
	}
}

func (v *Validator) ensureModule(section string, offset int) (*moduleState, error) {
	switch v.state {
	case validatorModule:
		return v.module, nil
	case validatorUnparsed:
		return nil, errors.Invalid(offset, "unexpected module %s section before header was parsed", section)
	default:
		return nil, errors.Invalid(offset, "unexpected module %s section after parsing has completed", section)
	}
}

func checkMax(curLen int, amtAdded uint32, max int, desc string, offset int) error {
	if curLen+int(amtAdded) > max {
		return errors.LimitExceeded(offset, desc, max)
	}
	return nil
}

// Payload validates a single parser payload.
func (v *Validator) Payload(payload Payload) (ValidPayload, error) {
	switch p := payload.(type) {
	case Version:
		return ValidPayload{}, v.version(p)
	case TypeSection:
		return ValidPayload{}, v.typeSection(p)
	case ImportSection:
		return ValidPayload{}, v.importSection(p)
	case FunctionSection:
		return ValidPayload{}, v.functionSection(p)
	case TableSection:
		return ValidPayload{}, v.tableSection(p)
	case MemorySection:
		return ValidPayload{}, v.memorySection(p)
	case TagSection:
		return ValidPayload{}, v.tagSection(p)
	case GlobalSection:
		return ValidPayload{}, v.globalSection(p)
	case ExportSection:
		return ValidPayload{}, v.exportSection(p)
	case StartSection:
		return ValidPayload{}, v.startSection(p)
	case ElementSection:
		return ValidPayload{}, v.elementSection(p)
	case DataCountSection:
		return ValidPayload{}, v.dataCountSection(p)
	case CodeSectionStart:
		return ValidPayload{}, v.codeSectionStart(p)
	case CodeSectionEntry:
		fv, err := v.codeSectionEntry(p)
		if err != nil {
			return ValidPayload{}, err
		}
		return ValidPayload{Func: fv}, nil
	case DataSection:
		return ValidPayload{}, v.dataSection(p)
	case CustomSection:
		return ValidPayload{}, nil
	case UnknownSection:
		return ValidPayload{}, errors.Malformed(p.Range.Start, "malformed section id: %d", p.ID)
	case End:
		types, err := v.end(p.Offset)
		if err != nil {
			return ValidPayload{}, err
		}
		return ValidPayload{Types: types}, nil
	case ModuleSection, ComponentSection, ComponentSectionRaw:
		return ValidPayload{}, errors.Invalid(rangeOf(payload).Start, "component payload while parsing a module")
	default:
		return ValidPayload{}, errors.Invalid(0, "unhandled payload")
	}
}

func rangeOf(p Payload) Range {
	switch p := p.(type) {
	case ModuleSection:
		return p.Range
	case ComponentSection:
		return p.Range
	case ComponentSectionRaw:
		return p.Range
	}
	return Range{}
}

func (v *Validator) version(p Version) error {
	if v.state != validatorUnparsed {
		return errors.Invalid(p.Range.Start, "wasm version header out of order")
	}
	if p.Encoding != EncodingModule {
		return errors.Invalid(p.Range.Start, "expected a version header for a module")
	}
	v.state = validatorModule
	v.module = newModuleState()
	return nil
}

func (v *Validator) typeSection(p TypeSection) error {
	state, err := v.ensureModule("type", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderType, p.Range.Start); err != nil {
		return err
	}
	s := p.Reader
	if err := checkMax(len(state.types), s.Count(), MaxTypes, "types", p.Range.Start); err != nil {
		return err
	}
	v.types.Reserve(int(s.Count()))
	for !s.EOF() {
		offset := s.OriginalPosition()
		ft, err := s.Read()
		if err != nil {
			return err
		}
		if err := v.checkFuncType(&ft, offset); err != nil {
			return err
		}
		id := v.types.PushFunc(&ft)
		state.types = append(state.types, id)
	}
	return s.ensureEnd()
}

func (v *Validator) checkFuncType(ft *FuncType, offset int) error {
	for _, t := range ft.Params {
		if err := v.features.CheckValType(t, offset); err != nil {
			return err
		}
	}
	for _, t := range ft.Results {
		if err := v.features.CheckValType(t, offset); err != nil {
			return err
		}
	}
	if len(ft.Results) > 1 && !v.features.MultiValue {
		return errors.Unsupported(offset, "func type returns multiple values but the multi-value feature is not enabled")
	}
	return nil
}

func (v *Validator) funcTypeAt(state *moduleState, typeIdx uint32, offset int) (*FuncType, error) {
	if int(typeIdx) >= len(state.types) {
		return nil, errors.Invalid(offset, "unknown type %d: type index out of bounds", typeIdx)
	}
	ft := v.types.FuncAt(state.types[typeIdx])
	if ft == nil {
		return nil, errors.Invalid(offset, "type index %d is not a function type", typeIdx)
	}
	return ft, nil
}

func (v *Validator) checkTableType(tt *TableType, offset int) error {
	if tt.ElemType != ValFuncRef && !v.features.ReferenceTypes {
		return errors.Unsupported(offset, "reference types support is not enabled")
	}
	if err := v.features.CheckValType(tt.ElemType, offset); err != nil {
		return err
	}
	if tt.Limits.Shared || tt.Limits.Memory64 {
		return errors.Malformed(offset, "invalid limits flags for table")
	}
	if tt.Limits.Max != nil && tt.Limits.Min > *tt.Limits.Max {
		return errors.Invalid(offset, "size minimum must not be greater than maximum")
	}
	return nil
}

func (v *Validator) checkMemoryType(mt *MemoryType, offset int) error {
	l := &mt.Limits
	if l.Shared {
		if !v.features.Threads {
			return errors.Unsupported(offset, "threads must be enabled for shared memories")
		}
		if l.Max == nil {
			return errors.Invalid(offset, "shared memory must have maximum size")
		}
	}
	if l.Memory64 && !v.features.Memory64 {
		return errors.Unsupported(offset, "memory64 must be enabled for 64-bit memories")
	}
	maxPages := MemoryMaxPages32
	if l.Memory64 {
		maxPages = MemoryMaxPages64
	}
	if l.Min > maxPages {
		return errors.Invalid(offset, "memory size must be at most %d pages", maxPages)
	}
	if l.Max != nil {
		if *l.Max > maxPages {
			return errors.Invalid(offset, "memory size must be at most %d pages", maxPages)
		}
		if l.Min > *l.Max {
			return errors.Invalid(offset, "size minimum must not be greater than maximum")
		}
	}
	return nil
}

func (v *Validator) checkGlobalType(gt *GlobalType, offset int) error {
	return v.features.CheckValType(gt.ValType, offset)
}

func (v *Validator) checkTagType(state *moduleState, tt *TagType, offset int) (TypeID, error) {
	ft, err := v.funcTypeAt(state, tt.TypeIdx, offset)
	if err != nil {
		return 0, err
	}
	if len(ft.Results) != 0 {
		return 0, errors.Invalid(offset, "invalid exception type: non-empty tag result type")
	}
	return state.types[tt.TypeIdx], nil
}

func (v *Validator) importSection(p ImportSection) error {
	state, err := v.ensureModule("import", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderImport, p.Range.Start); err != nil {
		return err
	}
	s := p.Reader
	for !s.EOF() {
		offset := s.OriginalPosition()
		imp, err := s.Read()
		if err != nil {
			return err
		}
		if err := v.addImport(state, imp, offset); err != nil {
			return err
		}
	}
	return s.ensureEnd()
}

func (v *Validator) addImport(state *moduleState, imp Import, offset int) error {
	switch imp.Desc.Kind {
	case KindFunc:
		if err := checkMax(len(state.funcs), 1, MaxFunctions, "functions", offset); err != nil {
			return err
		}
		if _, err := v.funcTypeAt(state, imp.Desc.TypeIdx, offset); err != nil {
			return err
		}
		state.funcs = append(state.funcs, state.types[imp.Desc.TypeIdx])
		state.numImportedFuncs++
	case KindTable:
		if err := checkMax(len(state.tables), 1, v.features.maxTables(), "tables", offset); err != nil {
			return err
		}
		if err := v.checkTableType(imp.Desc.Table, offset); err != nil {
			return err
		}
		state.tables = append(state.tables, *imp.Desc.Table)
		state.numImportedTables++
	case KindMemory:
		if err := checkMax(len(state.memories), 1, v.features.maxMemories(), "memories", offset); err != nil {
			return err
		}
		if err := v.checkMemoryType(imp.Desc.Memory, offset); err != nil {
			return err
		}
		state.memories = append(state.memories, *imp.Desc.Memory)
		state.numImportedMemories++
	case KindGlobal:
		if err := checkMax(len(state.globals), 1, MaxGlobals, "globals", offset); err != nil {
			return err
		}
		if imp.Desc.Global.Mutable && !v.features.MutableGlobal {
			return errors.Unsupported(offset, "mutable global support is not enabled")
		}
		if err := v.checkGlobalType(imp.Desc.Global, offset); err != nil {
			return err
		}
		state.globals = append(state.globals, *imp.Desc.Global)
		state.numImportedGlobals++
	case KindTag:
		if !v.features.Exceptions {
			return errors.Unsupported(offset, "exceptions proposal not enabled")
		}
		if err := checkMax(len(state.tags), 1, MaxTags, "tags", offset); err != nil {
			return err
		}
		id, err := v.checkTagType(state, imp.Desc.Tag, offset)
		if err != nil {
			return err
		}
		state.tags = append(state.tags, id)
		state.numImportedTags++
	}
	state.imports = append(state.imports, imp)
	return nil
}

func (v *Validator) functionSection(p FunctionSection) error {
	state, err := v.ensureModule("function", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderFunction, p.Range.Start); err != nil {
		return err
	}
	s := p.Reader
	if err := checkMax(len(state.funcs), s.Count(), MaxFunctions, "functions", p.Range.Start); err != nil {
		return err
	}
	count := s.Count()
	state.expectedCodeBodies = &count
	for !s.EOF() {
		offset := s.OriginalPosition()
		typeIdx, err := s.Read()
		if err != nil {
			return err
		}
		if _, err := v.funcTypeAt(state, typeIdx, offset); err != nil {
			return err
		}
		state.funcs = append(state.funcs, state.types[typeIdx])
	}
	return s.ensureEnd()
}

func (v *Validator) tableSection(p TableSection) error {
	state, err := v.ensureModule("table", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderTable, p.Range.Start); err != nil {
		return err
	}
	s := p.Reader
	if err := checkMax(len(state.tables), s.Count(), v.features.maxTables(), "tables", p.Range.Start); err != nil {
		return err
	}
	for !s.EOF() {
		offset := s.OriginalPosition()
		tt, err := s.Read()
		if err != nil {
			return err
		}
		if err := v.checkTableType(&tt, offset); err != nil {
			return err
		}
		state.tables = append(state.tables, tt)
	}
	return s.ensureEnd()
}

func (v *Validator) memorySection(p MemorySection) error {
	state, err := v.ensureModule("memory", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderMemory, p.Range.Start); err != nil {
		return err
	}
	s := p.Reader
	if err := checkMax(len(state.memories), s.Count(), v.features.maxMemories(), "memories", p.Range.Start); err != nil {
		return err
	}
	for !s.EOF() {
		offset := s.OriginalPosition()
		mt, err := s.Read()
		if err != nil {
			return err
		}
		if err := v.checkMemoryType(&mt, offset); err != nil {
			return err
		}
		state.memories = append(state.memories, mt)
	}
	return s.ensureEnd()
}

func (v *Validator) tagSection(p TagSection) error {
	if !v.features.Exceptions {
		return errors.Unsupported(p.Range.Start, "exceptions proposal not enabled")
	}
	state, err := v.ensureModule("tag", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderTag, p.Range.Start); err != nil {
		return err
	}
	s := p.Reader
	if err := checkMax(len(state.tags), s.Count(), MaxTags, "tags", p.Range.Start); err != nil {
		return err
	}
	for !s.EOF() {
		offset := s.OriginalPosition()
		tt, err := s.Read()
		if err != nil {
			return err
		}
		id, err := v.checkTagType(state, &tt, offset)
		if err != nil {
			return err
		}
		state.tags = append(state.tags, id)
	}
	return s.ensureEnd()
}

// lookupGlobal resolves global indices for constant expressions. Only the
// first numVisible globals are visible; the bool reports whether the index
// names an imported global.
func (state *moduleState) lookupGlobal(numVisible int) func(idx uint32, offset int) (GlobalType, bool, error) {
	return func(idx uint32, offset int) (GlobalType, bool, error) {
		if int(idx) >= numVisible {
			return GlobalType{}, false, errors.Invalid(offset, "unknown global %d", idx)
		}
		return state.globals[idx], int(idx) < state.numImportedGlobals, nil
	}
}

func (state *moduleState) markDeclaredFunc(numFuncs int) func(idx uint32, offset int) error {
	return func(idx uint32, offset int) error {
		if int(idx) >= numFuncs {
			return errors.Invalid(offset, "unknown function %d", idx)
		}
		state.declaredFuncs[idx] = struct{}{}
		return nil
	}
}

func (v *Validator) globalSection(p GlobalSection) error {
	state, err := v.ensureModule("global", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderGlobal, p.Range.Start); err != nil {
		return err
	}
	s := p.Reader
	if err := checkMax(len(state.globals), s.Count(), MaxGlobals, "globals", p.Range.Start); err != nil {
		return err
	}
	for !s.EOF() {
		offset := s.OriginalPosition()
		g, err := s.Read()
		if err != nil {
			return err
		}
		if err := v.checkGlobalType(&g.Type, offset); err != nil {
			return err
		}
		got, err := checkConstExpr(g.Init, &v.features,
			state.lookupGlobal(len(state.globals)),
			state.markDeclaredFunc(len(state.funcs)))
		if err != nil {
			return err
		}
		if got != g.Type.ValType {
			return errors.Invalid(g.Init.Offset, "type mismatch: global initializer has type %s, expected %s", got, g.Type.ValType)
		}
		state.globals = append(state.globals, g.Type)
	}
	return s.ensureEnd()
}

func (v *Validator) exportSection(p ExportSection) error {
	state, err := v.ensureModule("export", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderExport, p.Range.Start); err != nil {
		return err
	}
	s := p.Reader
	if err := checkMax(len(state.exports), s.Count(), MaxExports, "exports", p.Range.Start); err != nil {
		return err
	}
	for !s.EOF() {
		offset := s.OriginalPosition()
		e, err := s.Read()
		if err != nil {
			return err
		}
		if err := v.addExport(state, e, offset); err != nil {
			return err
		}
	}
	return s.ensureEnd()
}

func (v *Validator) addExport(state *moduleState, e Export, offset int) error {
	if _, exists := state.exports[e.Name]; exists {
		return errors.Invalid(offset, "duplicate export name %q already defined", e.Name)
	}
	switch e.Kind {
	case KindFunc:
		if int(e.Idx) >= len(state.funcs) {
			return errors.Invalid(offset, "unknown function %d: exported function index out of bounds", e.Idx)
		}
		// Exported functions enter the declared-function set for ref.func.
		state.declaredFuncs[e.Idx] = struct{}{}
	case KindTable:
		if int(e.Idx) >= len(state.tables) {
			return errors.Invalid(offset, "unknown table %d: exported table index out of bounds", e.Idx)
		}
	case KindMemory:
		if int(e.Idx) >= len(state.memories) {
			return errors.Invalid(offset, "unknown memory %d: exported memory index out of bounds", e.Idx)
		}
	case KindGlobal:
		if int(e.Idx) >= len(state.globals) {
			return errors.Invalid(offset, "unknown global %d: exported global index out of bounds", e.Idx)
		}
		if state.globals[e.Idx].Mutable && !v.features.MutableGlobal {
			return errors.Unsupported(offset, "mutable global support is not enabled")
		}
	case KindTag:
		if int(e.Idx) >= len(state.tags) {
			return errors.Invalid(offset, "unknown tag %d: exported tag index out of bounds", e.Idx)
		}
	}
	state.exports[e.Name] = e
	return nil
}

func (v *Validator) startSection(p StartSection) error {
	state, err := v.ensureModule("start", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderStart, p.Range.Start); err != nil {
		return err
	}
	if int(p.Func) >= len(state.funcs) {
		return errors.Invalid(p.Range.Start, "unknown function %d: start function index out of bounds", p.Func)
	}
	ft := v.types.FuncAt(state.funcs[p.Func])
	if ft == nil || len(ft.Params) != 0 || len(ft.Results) != 0 {
		return errors.Invalid(p.Range.Start, "invalid start function type")
	}
	fn := p.Func
	state.start = &fn
	return nil
}

func (v *Validator) elementSection(p ElementSection) error {
	state, err := v.ensureModule("element", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderElement, p.Range.Start); err != nil {
		return err
	}
	s := p.Reader
	if err := checkMax(len(state.elements), s.Count(), MaxElementSegments, "element segments", p.Range.Start); err != nil {
		return err
	}
	for !s.EOF() {
		offset := s.OriginalPosition()
		e, err := s.Read()
		if err != nil {
			return err
		}
		if err := v.addElementSegment(state, e, offset); err != nil {
			return err
		}
	}
	return s.ensureEnd()
}

func (v *Validator) addElementSegment(state *moduleState, e Element, offset int) error {
	if e.Kind != ElementActive && !v.features.BulkMemory && !v.features.ReferenceTypes {
		return errors.Unsupported(offset, "bulk memory must be enabled")
	}
	if err := v.features.CheckValType(e.Type, offset); err != nil {
		return err
	}
	if e.Kind == ElementActive {
		if int(e.TableIdx) >= len(state.tables) {
			return errors.Invalid(offset, "unknown table %d: element section table index out of bounds", e.TableIdx)
		}
		if state.tables[e.TableIdx].ElemType != e.Type {
			return errors.Invalid(offset, "invalid element type for table type")
		}
		got, err := checkConstExpr(e.Offset, &v.features,
			state.lookupGlobal(len(state.globals)),
			state.markDeclaredFunc(len(state.funcs)))
		if err != nil {
			return err
		}
		if got != ValI32 {
			return errors.Invalid(e.Offset.Offset, "type mismatch: element offset has type %s, expected i32", got)
		}
	}
	for _, idx := range e.FuncIdxs {
		if int(idx) >= len(state.funcs) {
			return errors.Invalid(offset, "unknown function %d: element function index out of bounds", idx)
		}
		state.declaredFuncs[idx] = struct{}{}
	}
	for _, expr := range e.Exprs {
		got, err := checkConstExpr(expr, &v.features,
			state.lookupGlobal(len(state.globals)),
			state.markDeclaredFunc(len(state.funcs)))
		if err != nil {
			return err
		}
		if got != e.Type {
			return errors.Invalid(expr.Offset, "type mismatch: element item has type %s, expected %s", got, e.Type)
		}
	}
	state.elements = append(state.elements, e.Type)
	return nil
}

func (v *Validator) dataCountSection(p DataCountSection) error {
	state, err := v.ensureModule("data count", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderDataCount, p.Range.Start); err != nil {
		return err
	}
	if p.Count > MaxDataSegments {
		return errors.LimitExceeded(p.Range.Start, "data segments", MaxDataSegments)
	}
	count := p.Count
	state.dataCount = &count
	return nil
}

func (v *Validator) codeSectionStart(p CodeSectionStart) error {
	state, err := v.ensureModule("code", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderCode, p.Range.Start); err != nil {
		return err
	}
	switch {
	case state.expectedCodeBodies != nil:
		if *state.expectedCodeBodies != p.Count {
			return errors.Invalid(p.Range.Start, "function and code section have inconsistent lengths")
		}
		state.expectedCodeBodies = nil
	case p.Count == 0:
		// An empty code section is allowed even without a function section.
	default:
		return errors.Invalid(p.Range.Start, "code section without function section")
	}

	// Freeze the type environment; body validators consume this snapshot and
	// may run on other goroutines.
	state.snapshot = v.types.Commit()
	debugf("code section: %d bodies, %d committed types", p.Count, state.snapshot.Len())
	return nil
}

func (v *Validator) codeSectionEntry(p CodeSectionEntry) (*FuncValidator, error) {
	state, err := v.ensureModule("code", p.Body.Start)
	if err != nil {
		return nil, err
	}
	funcIdx := uint32(state.numImportedFuncs) + state.codeEntryIndex
	if int(funcIdx) >= len(state.funcs) {
		return nil, errors.Invalid(p.Body.Start, "code section entry exceeds function count")
	}
	state.codeEntryIndex++

	ty := state.snapshot.FuncAt(state.funcs[funcIdx])
	if ty == nil {
		return nil, errors.Invalid(p.Body.Start, "code section entry has no function type")
	}
	return newFuncValidator(p.Body, ty, v.features, newFuncResources(state)), nil
}

func (v *Validator) dataSection(p DataSection) error {
	state, err := v.ensureModule("data", p.Range.Start)
	if err != nil {
		return err
	}
	if err := state.updateOrder(orderData, p.Range.Start); err != nil {
		return err
	}
	s := p.Reader
	s.ForbidBulkMemory(!v.features.BulkMemory)
	state.sawDataSection = true
	state.dataSegmentCount = s.Count()
	if err := checkMax(0, s.Count(), MaxDataSegments, "data segments", p.Range.Start); err != nil {
		return err
	}
	for !s.EOF() {
		offset := s.OriginalPosition()
		d, err := s.Read()
		if err != nil {
			return err
		}
		if err := v.addDataSegment(state, d, offset); err != nil {
			return err
		}
	}
	return s.ensureEnd()
}

func (v *Validator) addDataSegment(state *moduleState, d Data, offset int) error {
	if d.Kind == DataPassive {
		return nil
	}
	if int(d.MemIdx) >= len(state.memories) {
		return errors.Invalid(offset, "unknown memory %d: data section memory index out of bounds", d.MemIdx)
	}
	expected := ValI32
	if state.memories[d.MemIdx].Limits.Memory64 {
		expected = ValI64
	}
	got, err := checkConstExpr(d.Offset, &v.features,
		state.lookupGlobal(len(state.globals)),
		state.markDeclaredFunc(len(state.funcs)))
	if err != nil {
		return err
	}
	if got != expected {
		return errors.Invalid(d.Offset.Offset, "type mismatch: data offset has type %s, expected %s", got, expected)
	}
	return nil
}

func (v *Validator) end(offset int) (*Types, error) {
	switch v.state {
	case validatorUnparsed:
		return nil, errors.Invalid(offset, "cannot call end before a header has been parsed")
	case validatorEnd:
		return nil, errors.Invalid(offset, "cannot call end after parsing has completed")
	}
	state := v.module
	v.state = validatorEnd

	// A function section with a non-zero count and no code section is
	// inconsistent.
	if state.expectedCodeBodies != nil && *state.expectedCodeBodies != 0 {
		return nil, errors.Invalid(offset, "function and code section have inconsistent lengths")
	}

	if state.dataCount != nil && *state.dataCount != state.dataSegmentCount {
		return nil, errors.Invalid(offset, "data count and data section have inconsistent lengths")
	}

	snapshot := state.snapshot
	if snapshot == nil {
		snapshot = v.types.Commit()
	}
	return newModuleTypes(snapshot, state), nil
}

// ModuleType summarizes the finished module's imports and exports for
// absorption into an enclosing component scope.
func (v *Validator) ModuleType() *ModuleType {
	if v.state != validatorEnd || v.module == nil {
		return nil
	}
	state := v.module
	mt := &ModuleType{
		Imports: make(map[string]EntityType, len(state.imports)),
		Exports: make(map[string]EntityType, len(state.exports)),
	}
	for _, imp := range state.imports {
		mt.Imports[imp.Module+"\x00"+imp.Name] = v.entityForImport(state, imp)
	}
	for name, e := range state.exports {
		mt.Exports[name] = v.entityForExport(state, e)
	}
	return mt
}

func (v *Validator) entityForImport(state *moduleState, imp Import) EntityType {
	et := EntityType{Kind: imp.Desc.Kind}
	switch imp.Desc.Kind {
	case KindFunc:
		et.Func = state.types[imp.Desc.TypeIdx]
	case KindTable:
		et.Table = imp.Desc.Table
	case KindMemory:
		et.Memory = imp.Desc.Memory
	case KindGlobal:
		et.Global = imp.Desc.Global
	case KindTag:
		et.Tag = state.types[imp.Desc.Tag.TypeIdx]
	}
	return et
}

func (v *Validator) entityForExport(state *moduleState, e Export) EntityType {
	et := EntityType{Kind: e.Kind}
	switch e.Kind {
	case KindFunc:
		et.Func = state.funcs[e.Idx]
	case KindTable:
		t := state.tables[e.Idx]
		et.Table = &t
	case KindMemory:
		m := state.memories[e.Idx]
		et.Memory = &m
	case KindGlobal:
		g := state.globals[e.Idx]
		et.Global = &g
	case KindTag:
		et.Tag = state.tags[e.Idx]
	}
	return et
}
