package wasm

import (
	"github.com/wippyai/wasm-toolkit/errors"
)

// InitExpr is a constant expression borrowed from the original buffer. Data
// includes the terminating end opcode; Offset is its absolute position.
type InitExpr struct {
	Data   []byte
	Offset int
}

// Reader returns a reader positioned at the start of the expression.
func (e InitExpr) Reader() *Reader {
	return NewReader(e.Data, e.Offset)
}

// SkipInitExpr scans operators until the terminating end at depth zero and
// returns the expression as a borrowed slice.
func (r *Reader) SkipInitExpr() (InitExpr, error) {
	start := r.pos
	offset := r.OriginalPosition()
	depth := 0
	for {
		instr, err := r.ReadOperator()
		if err != nil {
			return InitExpr{}, err
		}
		switch instr.Opcode {
		case OpBlock, OpLoop, OpIf, OpTry:
			depth++
		case OpEnd:
			if depth == 0 {
				return InitExpr{
					Data:   r.buf[start:r.pos:r.pos],
					Offset: offset,
				}, nil
			}
			depth--
		}
	}
}

// checkConstExpr validates an init expression against the constant-expression
// grammar: a single const, ref.null, ref.func, or global.get of an imported
// immutable global, terminated by end. With extended-const, integer add, sub,
// and mul are also permitted. The function returns the expression's result
// type.
//
// lookupGlobal resolves a global index to its type and whether the index is
// legal in a constant context (imported globals only). markFunc records
// function indices referenced by ref.func so they land in the
// declared-function set.
func checkConstExpr(
	e InitExpr,
	features *Features,
	lookupGlobal func(idx uint32, offset int) (GlobalType, bool, error),
	markFunc func(idx uint32, offset int) error,
) (ValType, error) {
	r := e.Reader()

	// Stack of result types; the extended-const arithmetic operators consume
	// two and produce one.
	var stack []ValType
	push := func(t ValType) { stack = append(stack, t) }
	popPair := func(want ValType, offset int) error {
		if len(stack) < 2 {
			return errors.Invalid(offset, "type mismatch in constant expression")
		}
		a, b := stack[len(stack)-2], stack[len(stack)-1]
		stack = stack[:len(stack)-2]
		if a != want || b != want {
			return errors.Invalid(offset, "type mismatch in constant expression")
		}
		push(want)
		return nil
	}

	for {
		offset := r.OriginalPosition()
		instr, err := r.ReadOperator()
		if err != nil {
			return 0, err
		}

		switch instr.Opcode {
		case OpI32Const:
			push(ValI32)
		case OpI64Const:
			push(ValI64)
		case OpF32Const:
			push(ValF32)
		case OpF64Const:
			push(ValF64)

		case OpRefNull:
			if !features.ReferenceTypes {
				return 0, errors.Unsupported(offset, "reference types support is not enabled")
			}
			push(instr.Imm.(RefNullImm).Type)

		case OpRefFunc:
			if !features.ReferenceTypes {
				return 0, errors.Unsupported(offset, "reference types support is not enabled")
			}
			imm := instr.Imm.(RefFuncImm)
			if err := markFunc(imm.FuncIdx, offset); err != nil {
				return 0, err
			}
			push(ValFuncRef)

		case OpGlobalGet:
			imm := instr.Imm.(GlobalImm)
			gt, imported, err := lookupGlobal(imm.GlobalIdx, offset)
			if err != nil {
				return 0, err
			}
			if !imported {
				return 0, errors.Invalid(offset, "constant expression required: global.get of non-imported global")
			}
			if gt.Mutable {
				return 0, errors.Invalid(offset, "constant expression required: global.get of mutable global")
			}
			push(gt.ValType)

		case OpI32Add, OpI32Sub, OpI32Mul:
			if !features.ExtendedConst {
				return 0, errors.Unsupported(offset, "constant expression required")
			}
			if err := popPair(ValI32, offset); err != nil {
				return 0, err
			}

		case OpI64Add, OpI64Sub, OpI64Mul:
			if !features.ExtendedConst {
				return 0, errors.Unsupported(offset, "constant expression required")
			}
			if err := popPair(ValI64, offset); err != nil {
				return 0, err
			}

		case OpPrefixSIMD:
			imm := instr.Imm.(SIMDImm)
			if imm.SubOpcode != SimdV128Const {
				return 0, errors.Invalid(offset, "constant expression required")
			}
			if !features.SIMD {
				return 0, errors.Unsupported(offset, "SIMD support is not enabled")
			}
			push(ValV128)

		case OpEnd:
			if len(stack) != 1 {
				return 0, errors.Invalid(offset, "type mismatch: constant expression must leave one value")
			}
			return stack[0], nil

		default:
			return 0, errors.Invalid(offset, "constant expression required")
		}
	}
}
