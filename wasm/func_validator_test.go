package wasm_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wippyai/wasm-toolkit/wasm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collectBodyValidators drives the parser and validator over data and
// returns the detached per-body validators without running them.
func collectBodyValidators(t *testing.T, data []byte) []*wasm.FuncValidator {
	t.Helper()
	v := wasm.NewValidator()
	p := wasm.NewParser(data)
	var out []*wasm.FuncValidator
	for {
		payload, err := p.Next()
		require.NoError(t, err)
		res, err := v.Payload(payload)
		require.NoError(t, err)
		if res.Func != nil {
			out = append(out, res.Func)
		}
		if res.Types != nil {
			return out
		}
	}
}

// moduleWithBody builds a single-function module with the given signature
// and raw body opcodes.
func moduleWithBody(params, results []wasm.ValType, ops ...byte) []byte {
	return module(
		typeSection(funcType(params, results)),
		funcSection(0),
		codeSection(body(ops...)),
	)
}

func TestValidateFunctionSimple(t *testing.T) {
	// local.get 0, local.get 1, i32.add, end
	data := moduleWithBody(
		[]wasm.ValType{wasm.ValI32, wasm.ValI32},
		[]wasm.ValType{wasm.ValI32},
		0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B,
	)
	_, err := wasm.Validate(data)
	require.NoError(t, err)
}

func TestValidateFunctionStackUnderflow(t *testing.T) {
	// i32.add with an empty stack
	data := moduleWithBody(nil, nil, 0x6A, 0x0B)
	_, err := wasm.Validate(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "type mismatch")
}

func TestValidateFunctionOperandTypeMismatch(t *testing.T) {
	// i64.const then i32.eqz
	data := moduleWithBody(nil, nil, 0x42, 0x00, 0x45, 0x0B)
	_, err := wasm.Validate(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "type mismatch")
}

func TestValidateFunctionResultMissing(t *testing.T) {
	data := moduleWithBody(nil, []wasm.ValType{wasm.ValI32}, 0x0B)
	_, err := wasm.Validate(data)
	require.Error(t, err)
}

func TestValidateFunctionValuesLeftOnStack(t *testing.T) {
	data := moduleWithBody(nil, nil, 0x41, 0x01, 0x0B)
	_, err := wasm.Validate(data)
	require.Error(t, err)
}

func TestValidateFunctionUnreachablePolymorphism(t *testing.T) {
	// unreachable makes the rest of the frame polymorphic: i32.add on an
	// empty stack and a dangling result both unify with Unknown.
	data := moduleWithBody(nil, []wasm.ValType{wasm.ValI32}, 0x00, 0x6A, 0x0B)
	_, err := wasm.Validate(data)
	require.NoError(t, err)
}

func TestValidateFunctionBlocks(t *testing.T) {
	tests := []struct {
		name    string
		results []wasm.ValType
		ops     []byte
		wantErr string
	}{
		{
			name: "empty block",
			ops:  []byte{0x02, 0x40, 0x0B, 0x0B},
		},
		{
			name:    "block with result",
			results: []wasm.ValType{wasm.ValI32},
			ops:     []byte{0x02, 0x7F, 0x41, 0x01, 0x0B, 0x0B},
		},
		{
			name:    "block result missing",
			results: []wasm.ValType{wasm.ValI32},
			ops:     []byte{0x02, 0x7F, 0x0B, 0x0B},
			wantErr: "type mismatch",
		},
		{
			name: "loop",
			ops:  []byte{0x03, 0x40, 0x0B, 0x0B},
		},
		{
			name: "if else",
			ops:  []byte{0x41, 0x01, 0x04, 0x40, 0x05, 0x0B, 0x0B},
		},
		{
			name:    "if without else changing stack",
			results: []wasm.ValType{wasm.ValI32},
			ops:     []byte{0x41, 0x01, 0x04, 0x7F, 0x41, 0x01, 0x0B, 0x0B},
			wantErr: "else",
		},
		{
			name:    "else outside if",
			ops:     []byte{0x02, 0x40, 0x05, 0x0B, 0x0B},
			wantErr: "else",
		},
		{
			name:    "missing end",
			ops:     []byte{0x02, 0x40, 0x0B},
			wantErr: "END opcode expected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := moduleWithBody(nil, tt.results, tt.ops...)
			_, err := wasm.Validate(data)
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateFunctionBranches(t *testing.T) {
	tests := []struct {
		name    string
		ops     []byte
		wantErr bool
	}{
		{name: "br 0", ops: []byte{0x0C, 0x00, 0x0B}},
		{name: "br depth out of range", ops: []byte{0x0C, 0x05, 0x0B}, wantErr: true},
		{name: "br_if", ops: []byte{0x41, 0x01, 0x0D, 0x00, 0x0B}},
		{name: "br_if missing condition", ops: []byte{0x0D, 0x00, 0x0B}, wantErr: true},
		{
			name: "br_table",
			ops:  []byte{0x41, 0x00, 0x0E, 0x01, 0x00, 0x00, 0x0B},
		},
		{name: "return", ops: []byte{0x0F, 0x0B}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := moduleWithBody(nil, nil, tt.ops...)
			_, err := wasm.Validate(data)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateFunctionLocalIndex(t *testing.T) {
	data := moduleWithBody(nil, nil, 0x20, 0x02, 0x1A, 0x0B)
	_, err := wasm.Validate(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown local")
}

func TestValidateFunctionCall(t *testing.T) {
	// Two functions; the second calls the first.
	data := module(
		typeSection(
			funcType(nil, []wasm.ValType{wasm.ValI32}),
			funcType(nil, nil),
		),
		funcSection(0, 1),
		codeSection(
			body(0x41, 0x2A, 0x0B),
			body(0x10, 0x00, 0x1A, 0x0B),
		),
	)
	_, err := wasm.Validate(data)
	require.NoError(t, err)
}

func TestValidateFunctionCallUnknownIndex(t *testing.T) {
	data := moduleWithBody(nil, nil, 0x10, 0x07, 0x0B)
	_, err := wasm.Validate(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown function")
}

func TestValidateFunctionMemoryOps(t *testing.T) {
	withMemory := func(ops ...byte) []byte {
		return module(
			typeSection(funcType(nil, nil)),
			funcSection(0),
			memorySection([]byte{0x00, 0x01}),
			codeSection(body(ops...)),
		)
	}

	// i32.const 0, i32.load align=2 offset=0, drop
	_, err := wasm.Validate(withMemory(0x41, 0x00, 0x28, 0x02, 0x00, 0x1A, 0x0B))
	require.NoError(t, err)

	// alignment larger than natural
	_, err = wasm.Validate(withMemory(0x41, 0x00, 0x28, 0x03, 0x00, 0x1A, 0x0B))
	require.Error(t, err)
	require.Contains(t, err.Error(), "alignment must not be larger than natural")

	// no memory declared
	_, err = wasm.Validate(moduleWithBody(nil, nil, 0x41, 0x00, 0x28, 0x02, 0x00, 0x1A, 0x0B))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown memory")
}

func TestValidateFunctionGlobalOps(t *testing.T) {
	mutable := []byte{0x7F, 0x01, 0x41, 0x00, 0x0B}
	immutable := []byte{0x7F, 0x00, 0x41, 0x00, 0x0B}

	build := func(global []byte, ops ...byte) []byte {
		return module(
			typeSection(funcType(nil, nil)),
			funcSection(0),
			globalSection(global),
			codeSection(body(ops...)),
		)
	}

	// global.set on a mutable global
	_, err := wasm.Validate(build(mutable, 0x41, 0x01, 0x24, 0x00, 0x0B))
	require.NoError(t, err)

	// global.set on an immutable global
	_, err = wasm.Validate(build(immutable, 0x41, 0x01, 0x24, 0x00, 0x0B))
	require.Error(t, err)
	require.Contains(t, err.Error(), "immutable")
}

func TestValidateFunctionRefFunc(t *testing.T) {
	// ref.func is only valid for declared functions.
	undeclared := module(
		typeSection(funcType(nil, nil)),
		funcSection(0),
		codeSection(body(0xD2, 0x00, 0x1A, 0x0B)),
	)
	_, err := wasm.Validate(undeclared)
	require.Error(t, err)
	require.Contains(t, err.Error(), "undeclared function reference")

	// Exporting the function declares it.
	declared := module(
		typeSection(funcType(nil, nil)),
		funcSection(0),
		exportSection(export("f", 0, 0)),
		codeSection(body(0xD2, 0x00, 0x1A, 0x0B)),
	)
	_, err = wasm.Validate(declared)
	require.NoError(t, err)
}

func TestValidateFunctionFeatureGates(t *testing.T) {
	tests := []struct {
		name    string
		disable func(*wasm.Features)
		ops     []byte
	}{
		{
			name:    "sign extension",
			disable: func(f *wasm.Features) { f.SignExtension = false },
			ops:     []byte{0x41, 0x00, 0xC0, 0x1A, 0x0B},
		},
		{
			name:    "saturating trunc",
			disable: func(f *wasm.Features) { f.SaturatingFloatToInt = false },
			ops:     []byte{0x43, 0x00, 0x00, 0x00, 0x00, 0xFC, 0x00, 0x1A, 0x0B},
		},
		{
			name:    "reference types",
			disable: func(f *wasm.Features) { f.ReferenceTypes = false },
			ops:     []byte{0xD0, 0x70, 0x1A, 0x0B},
		},
		{
			name:    "simd",
			disable: func(f *wasm.Features) { f.SIMD = false },
			ops: append(append([]byte{0xFD, 0x0C},
				0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0), 0x1A, 0x0B),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := moduleWithBody(nil, nil, tt.ops...)

			// Enabled: validates
			_, err := wasm.Validate(data)
			require.NoError(t, err)

			// Disabled: rejected
			features := wasm.DefaultFeatures()
			tt.disable(&features)
			_, err = wasm.NewValidatorWithFeatures(features).ValidateAll(data)
			require.Error(t, err)
		})
	}
}

func TestValidateFunctionBulkMemoryNeedsDataCount(t *testing.T) {
	// data.drop without a data count section
	data := module(
		typeSection(funcType(nil, nil)),
		funcSection(0),
		memorySection([]byte{0x00, 0x01}),
		codeSection(body(0xFC, 0x09, 0x00, 0x0B)),
	)
	_, err := wasm.Validate(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "data count section required")

	// With a data count section it validates.
	withCount := module(
		typeSection(funcType(nil, nil)),
		funcSection(0),
		memorySection([]byte{0x00, 0x01}),
		dataCountSection(1),
		codeSection(body(0xFC, 0x09, 0x00, 0x0B)),
		dataSection([]byte{0x01, 0x00}),
	)
	_, err = wasm.Validate(withCount)
	require.NoError(t, err)
}

func TestValidateFunctionDeferred(t *testing.T) {
	// An invalid body is not detected until the body validator runs.
	data := moduleWithBody(nil, nil, 0x6A, 0x0B)
	validators := collectBodyValidators(t, data)
	require.Len(t, validators, 1)
	require.Error(t, validators[0].Validate())
}

func TestValidateFunctionParallelEquivalence(t *testing.T) {
	// Mix of valid and invalid bodies: inline and worker validation must
	// agree on which bodies fail.
	data := module(
		typeSection(funcType(nil, []wasm.ValType{wasm.ValI32})),
		funcSection(0, 0, 0),
		codeSection(
			body(0x41, 0x01, 0x0B), // valid
			body(0x6A, 0x0B),       // stack underflow
			body(0x41, 0x01, 0x0B), // valid
		),
	)

	validators := collectBodyValidators(t, data)
	require.Len(t, validators, 3)

	inline := make([]bool, len(validators))
	for i, fv := range validators {
		inline[i] = fv.Validate() != nil
	}

	// Re-collect and fan out to goroutines.
	validators = collectBodyValidators(t, data)
	parallel := make([]bool, len(validators))
	var wg sync.WaitGroup
	for i, fv := range validators {
		wg.Add(1)
		go func(i int, fv *wasm.FuncValidator) {
			defer wg.Done()
			parallel[i] = fv.Validate() != nil
		}(i, fv)
	}
	wg.Wait()

	require.Equal(t, inline, parallel)
	require.Equal(t, []bool{false, true, false}, inline)
}
