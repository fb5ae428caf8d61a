// Package harness runs YAML-defined operation scenarios against an
// in-memory service and compares the results to golden files.
//
// A scenario declares the starting playlists, a budget, and one operation.
// Running it drives the full command lifecycle against fakes with a fixed
// clock, then snapshots the terminal state, outcome counts, quota spend,
// and final playlist membership. Golden comparison keeps the observable
// behavior of the engine pinned across refactors.
package harness
