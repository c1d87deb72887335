// Package hir holds the inference-phase operators that expand into several typed nodes, or whose typed
// form depends on the facts of their inputs.
//
// Each operator implements infer.Op: its Rules relate the facts of its inputs and outputs, and its Wire
// materializes it into the typed model once those facts are known. Typed operators that map one to one
// onto a typed node don't need a type here, see infer.Typed.
package hir
