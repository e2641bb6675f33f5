// Package wasmtoolkit is a toolkit for WebAssembly binary modules and
// components: a streaming parser, a structural validator, and the type
// machinery they share.
//
// The library is organized into packages with distinct responsibilities:
//
//	wasm-toolkit/        Root package, documentation only
//	├── wasm/            Binary reader, section readers, streaming parser,
//	│                    type environment, module and function-body validators
//	├── component/       Component Model section decoding and the scope-stack
//	│                    streaming validator
//	├── errors/          Structured errors: closed kind set plus byte offset
//	├── cmd/wasmcheck/   CLI to validate and inspect wasm binaries
//	└── testbed/         Differential tests against an independent decoder
//
// Validate a module:
//
//	types, err := wasm.Validate(data)
//
// Validate a component, nested modules included:
//
//	types, err := component.Validate(data)
//
// For streaming use, drive a wasm.Parser and feed each payload to a
// validator; code-section entries come back as detached body validators that
// may run on worker goroutines.
package wasmtoolkit
