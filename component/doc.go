// Package component provides streaming validation of WebAssembly
// Component Model binaries.
//
// A component is a nested container: it holds core modules, other
// components, instances of both, component-level types and functions, and
// typed adapters (canon lift/lower) between the core and component worlds.
// The validator maintains a stack of scopes, one per component being
// validated, and delegates nested core modules to the wasm package's module
// validator. All types land in one shared type environment, so identifiers
// resolved in a child remain valid when the parent absorbs the child's type.
package component
