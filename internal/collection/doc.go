// Package collection defines the contracts for the external collaborators
// the engine drives: the remote collection service that holds containers of
// items, the classification oracle that decides item-to-destination matches,
// and the token provider used when credentials expire mid-run.
//
// Everything in this package is an interface or a plain data type. The engine
// never depends on a concrete transport; production wiring and the in-memory
// fakes in internal/testutil both satisfy these contracts.
package collection
