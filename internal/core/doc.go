// Package core provides the business logic for the parking lot record service.
//
// This package holds all domain logic independent of any transport or storage
// engine. It can be used by web handlers, the admin CLI, or tests without
// modification. Persistence is reached through the [RecordStore] interface.
//
// # Architecture
//
//   - Records: [VehicleRecord] with the invariant that at most one record per
//     plate is active and that a departure time is present iff the record has
//     departed.
//   - Service: the entry point for every operation (import, export, register,
//     depart, delete, catalog).
//   - Reconciliation: [Reconcile] merges CSV lines into a snapshot of existing
//     records and returns the records to create plus an [ImportSummary].
//   - Results: every long-running operation reports a [Result], one of
//     [Pending], [Success] or [Failure].
//
// # Import Flow
//
//  1. Client calls [Service.Import] (or [Service.StartImport]) with an io.Reader
//  2. The reader is wrapped to strip a BOM and repair invalid UTF-8
//  3. The existing-record snapshot is fetched once
//  4. [ReconcilePlan] computes the full create-list in memory
//  5. Records are written one by one, checking for cancellation between writes;
//     a row the store rejects as a conflict joins the error lines
//  6. Progress is broadcast to subscribers via [Service.SubscribeImport]
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each category has a code for support reference:
//
//   - VEH001-VEH004: vehicle rule violations (active plate, departed, not found)
//   - IMP001-IMP004: import errors (empty file, busy, cancelled, not found)
//   - FILE001-FILE003: file errors (size, encoding, missing)
//   - AUTH001-AUTH004: authentication and authorization
//   - DB001-DB004: storage errors
package core
