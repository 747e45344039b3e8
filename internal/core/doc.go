// Package core runs table syncs between databases and files.
//
// This package holds the sync logic independent of any transport: the CLI,
// the scheduler and the ops HTTP server all drive the same Processor.
//
// # Processor
//
// A [Processor] is built from a validated [config.SyncConfig] and its
// collaborators: a source gateway for exports, a destination gateway for
// imports and a file codec. Each call to [Processor.Process] walks the
// configured tables in order:
//
//	export: source.Export -> empty? skip : codec.Write(folder/table_yyyyMMdd.ext)
//	import: file missing? skip : codec.Read -> empty? skip : Truncate -> Load
//
// Every table ends with an [Outcome] recorded in the run's [RunReport].
// Progress events are delivered to an optional [ProgressCallback];
// [LogProgress] turns them into log entries.
//
// # Failure Policy
//
// The first failing table ends the run unless ContinueOnError is set, in
// which case every table is attempted and the errors are joined. Only one
// run may be active per processor; see [RunGuard].
//
// # Scheduling
//
// [Scheduler] invokes a processor on a cron expression or a fixed interval,
// with optional run-on-start, manual triggers and one immediate retry after
// a failure.
//
// # Error Handling
//
// Technical errors are mapped to operator messages using [MapError].
// Each category has a code prefix: CFG (configuration), DB (database),
// FILE (file system and formats) and RUN (run lifecycle).
package core
