// Package tabkeep is a local-first encrypted key-value store for per-user
// tracker data (drinks, budgets, plans, assessments).
//
// Components:
//   - Backend: durable byte store (sqlite, redis, memory).
//   - Provider: in-memory cache tier with TTL (map, Ristretto, BigCache).
//   - GenStore: per-key write generations guarding cache refills.
//   - KeySource: master key for values under encrypted base keys (AES-256-GCM).
//   - Ledger: pending changes awaiting remote confirmation, persisted with the data.
//
// Keys:
//
//	{base}_{userId}          - application values (e.g. drinks_u1)
//	kv:{key}                 - cache tier entries
//	__tabkeep_*              - internal records, hidden from Keys
//
// Reads serve the cache while now < expiresAt and the entry's generation is
// current; otherwise they go to the backend and refill the cache only if no
// write happened since the read began:
//
//	obs := gen.Snapshot(k) // before backend read
//	v   := backend.Get(k)
//	if gen.Snapshot(k) == obs { cache.Set(k, entry{obs, v}) }
package tabkeep
