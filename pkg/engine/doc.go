// Package engine runs batches: it turns a validated template into an
// ordered sequence of remote creation calls, records every created resource
// in the ledger, and reverses a batch on request.
//
// # Creation
//
// Executor.RunCreation processes projects in template order. Inside each
// project it creates, strictly in this order:
//
//  1. the project itself, or reuses an existing one with the same
//     identifier when Options.ReuseExistingProjects is set
//  2. cycles, building a name -> remote ID map
//  3. modules, likewise
//  4. issues depth-first, passing the parent's remote ID to sub-issues and
//     linking each issue to its cycle and module when the names resolve
//
// Each resource is written to the ledger as soon as the remote call
// returns, before the next call is made. The first failure stops the batch
// and marks it FAILED; rows written so far stay so that cleanup can remove
// them. There are no retries and no compensating deletes.
//
// Cycle or module names that do not match a declared cycle or module are
// ignored and the issue is left unlinked.
//
// # Cleanup
//
// Executor.RunCleanup reads the ledger rows of a batch newest first, so
// sub-issues go before their parents and projects go last. A delete that
// finds nothing remotely counts as success. A failed delete keeps its row
// and the batch becomes PARTIAL_DELETED; cleanup can be re-run until no
// rows are left and the batch is DELETED.
//
// # Batch Lifecycle
//
//	RUNNING ──► COMPLETED ──┐
//	    │                   ├──► PARTIAL_DELETED ──► DELETED
//	    └─────► FAILED ─────┘            ▲   │
//	                                     └───┘
//
// RUNNING batches are refused by cleanup unless WithForce is given.
//
// # Metadata
//
// MetadataSyncer caches workspace members and project states as ledger
// facts. When a default state is cached for a project, issues in that
// project are created with it.
//
// # Dry Run
//
// Plan walks a template in execution order without remote calls and
// reports the expected ledger row count and any references that will be
// ignored.
package engine
