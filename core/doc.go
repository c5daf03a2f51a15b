// Package core implements the XLN bilateral account state machine: the
// AccountMachine/EntityMachine/Runtime three-layer deterministic core.
//
// Build graph: codec/hash/crypto (no deps) -> delta/locks (codec, hash) ->
// account_tx/frame/account_machine (delta, locks, hash, crypto) ->
// entity_tx/entity_machine (account_machine) -> jurisdiction (entity_machine)
// -> runtime/snapshot (entity_machine, jurisdiction).
package core
