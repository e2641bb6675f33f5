// Package wasm provides streaming parsing and structural validation of
// WebAssembly binary modules.
//
// The package turns an opaque byte buffer into a sequence of typed section
// payloads and checks them against the WebAssembly type system. All decoding
// is zero-copy: readers borrow from the input buffer and every error carries
// the byte offset where it was detected.
//
// # Parsing
//
// A Parser is a pull-based state machine over the binary:
//
//	p := wasm.NewParser(data)
//	for {
//	    payload, err := p.Next()
//	    if err != nil {
//	        return err
//	    }
//	    switch pl := payload.(type) {
//	    case wasm.TypeSection:
//	        // iterate pl.Reader
//	    case wasm.End:
//	        return nil
//	    }
//	}
//
// # Validation
//
// A Validator consumes the payload stream in source order:
//
//	types, err := wasm.Validate(data)
//
// Function bodies can be validated off the main goroutine: the validator
// returns one detached FuncValidator per code entry, each owning a committed
// snapshot of the type environment:
//
//	res, err := v.Payload(payload)
//	if res.Func != nil {
//	    go func() { errs <- res.Func.Validate() }()
//	}
//
// # Features
//
// Validation is configured by a Features value; DefaultFeatures enables the
// finished proposals plus SIMD. Structurally valid constructs behind a
// disabled flag fail with an unsupported-feature error.
package wasm
