package wasm

import (
	"github.com/wippyai/wasm-toolkit/errors"
)

// funcResources is the module context a body validator needs, detached from
// the live validator so bodies can be checked on worker goroutines. The
// snapshot and every slice here are frozen once the code section starts.
type funcResources struct {
	snapshot      *Snapshot
	types         []TypeID
	funcs         []TypeID
	tables        []TableType
	memories      []MemoryType
	globals       []GlobalType
	tags          []TypeID
	elements      []ValType
	declaredFuncs map[uint32]struct{}
	dataCount     *uint32
	sawDataCount  bool
}

func newFuncResources(state *moduleState) funcResources {
	declared := make(map[uint32]struct{}, len(state.declaredFuncs))
	for k := range state.declaredFuncs {
		declared[k] = struct{}{}
	}
	return funcResources{
		snapshot:      state.snapshot,
		types:         state.types,
		funcs:         state.funcs,
		tables:        state.tables,
		memories:      state.memories,
		globals:       state.globals,
		tags:          state.tags,
		elements:      state.elements,
		declaredFuncs: declared,
		dataCount:     state.dataCount,
		sawDataCount:  state.dataCount != nil,
	}
}

// FuncValidator validates one function body against a committed snapshot of
// the type environment. It holds no references to the live validator and is
// safe to move to another goroutine.
type FuncValidator struct {
	body     FunctionBody
	ty       *FuncType
	features Features
	res      funcResources
}

func newFuncValidator(body FunctionBody, ty *FuncType, features Features, res funcResources) *FuncValidator {
	return &FuncValidator{body: body, ty: ty, features: features, res: res}
}

// Type returns the function's declared signature.
func (fv *FuncValidator) Type() *FuncType {
	return fv.ty
}

// maybeVal is a value-stack entry: a known type, or the polymorphic unknown
// produced after unreachable code.
type maybeVal struct {
	t     ValType
	known bool
}

type ctrlFrame struct {
	startTypes  []ValType
	endTypes    []ValType
	height      int
	opcode      byte
	unreachable bool
}

type funcState struct {
	fv     *FuncValidator
	r      *Reader
	vals   []maybeVal
	ctrl   []ctrlFrame
	locals []ValType
	offset int // offset of the instruction being validated
}

// Validate checks the whole body: local declarations, the operator sequence,
// and the final stack shape.
func (fv *FuncValidator) Validate() error {
	st := &funcState{fv: fv, r: NewReader(fv.body.Code, fv.body.CodeOffset)}

	total := len(fv.ty.Params)
	for _, decl := range fv.body.Locals {
		total += int(decl.Count)
		if total > MaxFunctionLocals {
			return errors.Invalid(fv.body.Start, "too many locals: locals exceed maximum")
		}
	}
	st.locals = make([]ValType, 0, total)
	st.locals = append(st.locals, fv.ty.Params...)
	for _, decl := range fv.body.Locals {
		if err := fv.features.CheckValType(decl.ValType, fv.body.Start); err != nil {
			return err
		}
		for i := uint32(0); i < decl.Count; i++ {
			st.locals = append(st.locals, decl.ValType)
		}
	}

	// The function itself is the outermost control frame.
	st.pushCtrl(OpBlock, nil, fv.ty.Results)

	for len(st.ctrl) > 0 {
		if st.r.EOF() {
			return errors.Malformed(st.r.OriginalPosition(), "unexpected end of function: END opcode expected")
		}
		st.offset = st.r.OriginalPosition()
		instr, err := st.r.ReadOperator()
		if err != nil {
			return err
		}
		if err := st.step(instr); err != nil {
			return err
		}
	}

	if !st.r.EOF() {
		return errors.Malformed(st.r.OriginalPosition(), "operators remaining after end of function")
	}
	if len(st.vals) != len(fv.ty.Results) {
		return errors.Invalid(st.offset, "type mismatch: expected %d values on stack at end of function, found %d", len(fv.ty.Results), len(st.vals))
	}
	return nil
}

func (st *funcState) invalid(format string, args ...any) error {
	return errors.Invalid(st.offset, format, args...)
}

func (st *funcState) pushVal(t ValType) {
	st.vals = append(st.vals, maybeVal{t: t, known: true})
}

func (st *funcState) pushUnknown() {
	st.vals = append(st.vals, maybeVal{})
}

func (st *funcState) popVal() (maybeVal, error) {
	frame := &st.ctrl[len(st.ctrl)-1]
	if len(st.vals) == frame.height {
		if frame.unreachable {
			return maybeVal{}, nil
		}
		return maybeVal{}, st.invalid("type mismatch: expected a value on the stack but stack was empty")
	}
	v := st.vals[len(st.vals)-1]
	st.vals = st.vals[:len(st.vals)-1]
	return v, nil
}

func (st *funcState) popExpected(t ValType) error {
	v, err := st.popVal()
	if err != nil {
		return err
	}
	if v.known && v.t != t {
		return st.invalid("type mismatch: expected %s but found %s", t, v.t)
	}
	return nil
}

func (st *funcState) popVals(types []ValType) error {
	for i := len(types) - 1; i >= 0; i-- {
		if err := st.popExpected(types[i]); err != nil {
			return err
		}
	}
	return nil
}

func (st *funcState) pushVals(types []ValType) {
	for _, t := range types {
		st.pushVal(t)
	}
}

func (st *funcState) pushCtrl(opcode byte, in, out []ValType) {
	st.ctrl = append(st.ctrl, ctrlFrame{
		opcode:     opcode,
		startTypes: in,
		endTypes:   out,
		height:     len(st.vals),
	})
	st.pushVals(in)
}

func (st *funcState) popCtrl() (ctrlFrame, error) {
	if len(st.ctrl) == 0 {
		return ctrlFrame{}, st.invalid("operators remaining after end of function")
	}
	frame := st.ctrl[len(st.ctrl)-1]
	if err := st.popVals(frame.endTypes); err != nil {
		return ctrlFrame{}, err
	}
	if len(st.vals) != frame.height {
		return ctrlFrame{}, st.invalid("type mismatch: values remaining on stack at end of block")
	}
	st.ctrl = st.ctrl[:len(st.ctrl)-1]
	return frame, nil
}

func (st *funcState) frameAt(depth uint32) (*ctrlFrame, error) {
	if int(depth) >= len(st.ctrl) {
		return nil, st.invalid("unknown label: branch depth %d exceeds control stack height %d", depth, len(st.ctrl))
	}
	return &st.ctrl[len(st.ctrl)-1-int(depth)], nil
}

// labelTypes returns the branch types of a frame: a loop's inputs, any other
// frame's outputs.
func labelTypes(frame *ctrlFrame) []ValType {
	if frame.opcode == OpLoop {
		return frame.startTypes
	}
	return frame.endTypes
}

func (st *funcState) setUnreachable() {
	frame := &st.ctrl[len(st.ctrl)-1]
	st.vals = st.vals[:frame.height]
	frame.unreachable = true
}

// blockTypes resolves a blocktype immediate into input and output type
// sequences.
func (st *funcState) blockTypes(bt int32) ([]ValType, []ValType, error) {
	switch bt {
	case BlockTypeVoid:
		return nil, nil, nil
	case -1:
		return nil, []ValType{ValI32}, nil
	case -2:
		return nil, []ValType{ValI64}, nil
	case -3:
		return nil, []ValType{ValF32}, nil
	case -4:
		return nil, []ValType{ValF64}, nil
	case -5:
		if !st.fv.features.SIMD {
			return nil, nil, errors.Unsupported(st.offset, "SIMD support is not enabled")
		}
		return nil, []ValType{ValV128}, nil
	case -16:
		if !st.fv.features.ReferenceTypes {
			return nil, nil, errors.Unsupported(st.offset, "reference types support is not enabled")
		}
		return nil, []ValType{ValFuncRef}, nil
	case -17:
		if !st.fv.features.ReferenceTypes {
			return nil, nil, errors.Unsupported(st.offset, "reference types support is not enabled")
		}
		return nil, []ValType{ValExtern}, nil
	}
	if bt < 0 {
		return nil, nil, errors.Malformed(st.offset, "invalid block type %d", bt)
	}
	if !st.fv.features.MultiValue {
		return nil, nil, errors.Unsupported(st.offset, "blocktype type index requires multi-value support")
	}
	ft, err := st.funcTypeAt(uint32(bt))
	if err != nil {
		return nil, nil, err
	}
	return ft.Params, ft.Results, nil
}

func (st *funcState) funcTypeAt(typeIdx uint32) (*FuncType, error) {
	if int(typeIdx) >= len(st.fv.res.types) {
		return nil, st.invalid("unknown type %d: type index out of bounds", typeIdx)
	}
	ft := st.fv.res.snapshot.FuncAt(st.fv.res.types[typeIdx])
	if ft == nil {
		return nil, st.invalid("type index %d is not a function type", typeIdx)
	}
	return ft, nil
}

func (st *funcState) memoryAt(idx uint32) (*MemoryType, error) {
	if idx != 0 && !st.fv.features.MultiMemory {
		return nil, errors.Unsupported(st.offset, "multi-memory support is not enabled")
	}
	if int(idx) >= len(st.fv.res.memories) {
		return nil, st.invalid("unknown memory %d", idx)
	}
	return &st.fv.res.memories[idx], nil
}

func (st *funcState) tableAt(idx uint32) (*TableType, error) {
	if int(idx) >= len(st.fv.res.tables) {
		return nil, st.invalid("unknown table %d: table index out of bounds", idx)
	}
	return &st.fv.res.tables[idx], nil
}

// indexType returns the address operand type for a memory.
func indexType(mem *MemoryType) ValType {
	if mem.Limits.Memory64 {
		return ValI64
	}
	return ValI32
}

// checkMemArg validates the alignment and memory index of a memarg and
// returns the address type.
func (st *funcState) checkMemArg(imm MemoryImm, naturalAlignLog2 uint32) (ValType, error) {
	mem, err := st.memoryAt(imm.MemIdx)
	if err != nil {
		return 0, err
	}
	if imm.Align > naturalAlignLog2 {
		return 0, st.invalid("alignment must not be larger than natural")
	}
	if !mem.Limits.Memory64 && imm.Offset > 0xFFFF_FFFF {
		return 0, st.invalid("offset out of range for 32-bit memory")
	}
	return indexType(mem), nil
}

func (st *funcState) load(imm MemoryImm, align uint32, result ValType) error {
	addr, err := st.checkMemArg(imm, align)
	if err != nil {
		return err
	}
	if err := st.popExpected(addr); err != nil {
		return err
	}
	st.pushVal(result)
	return nil
}

func (st *funcState) store(imm MemoryImm, align uint32, operand ValType) error {
	addr, err := st.checkMemArg(imm, align)
	if err != nil {
		return err
	}
	if err := st.popExpected(operand); err != nil {
		return err
	}
	return st.popExpected(addr)
}

func (st *funcState) binop(t ValType) error {
	if err := st.popExpected(t); err != nil {
		return err
	}
	if err := st.popExpected(t); err != nil {
		return err
	}
	st.pushVal(t)
	return nil
}

func (st *funcState) unop(t ValType) error {
	if err := st.popExpected(t); err != nil {
		return err
	}
	st.pushVal(t)
	return nil
}

func (st *funcState) cmp(t ValType) error {
	if err := st.popExpected(t); err != nil {
		return err
	}
	if err := st.popExpected(t); err != nil {
		return err
	}
	st.pushVal(ValI32)
	return nil
}

func (st *funcState) convert(from, to ValType) error {
	if err := st.popExpected(from); err != nil {
		return err
	}
	st.pushVal(to)
	return nil
}

func (st *funcState) localAt(idx uint32) (ValType, error) {
	if int(idx) >= len(st.locals) {
		return 0, st.invalid("unknown local %d: local index out of bounds", idx)
	}
	return st.locals[idx], nil
}

func (st *funcState) globalAt(idx uint32) (*GlobalType, error) {
	if int(idx) >= len(st.fv.res.globals) {
		return nil, st.invalid("unknown global %d: global index out of bounds", idx)
	}
	return &st.fv.res.globals[idx], nil
}

func (st *funcState) tagAt(idx uint32) (*FuncType, error) {
	if int(idx) >= len(st.fv.res.tags) {
		return nil, st.invalid("unknown tag %d: tag index out of bounds", idx)
	}
	ft := st.fv.res.snapshot.FuncAt(st.fv.res.tags[idx])
	if ft == nil {
		return nil, st.invalid("tag %d has no function type", idx)
	}
	return ft, nil
}

func (st *funcState) checkCall(ft *FuncType) error {
	if err := st.popVals(ft.Params); err != nil {
		return err
	}
	st.pushVals(ft.Results)
	return nil
}

func (st *funcState) checkReturnCall(ft *FuncType) error {
	if !st.fv.features.TailCall {
		return errors.Unsupported(st.offset, "tail calls support is not enabled")
	}
	// The callee's results must match the caller's exactly.
	if len(ft.Results) != len(st.fv.ty.Results) {
		return st.invalid("type mismatch: return call results do not match function results")
	}
	for i := range ft.Results {
		if ft.Results[i] != st.fv.ty.Results[i] {
			return st.invalid("type mismatch: return call results do not match function results")
		}
	}
	if err := st.popVals(ft.Params); err != nil {
		return err
	}
	st.setUnreachable()
	return nil
}
