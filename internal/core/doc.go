// Package core runs call log imports on behalf of the transport layers.
//
// It sits between the HTTP handlers (or CLI) and the ingest pipeline:
//
//  1. [Service.StartImport] takes a slot from the [ImportLimiter], decodes
//     the upload with [ReadUpload] (plain text, gzip, zstd, xz or an xlsx
//     workbook) and hands the text to the ingest pipeline in a goroutine.
//  2. Pipeline progress is fanned out to subscribers via
//     [Service.SubscribeProgress]. Slow subscribers drop intermediate
//     snapshots but always see their channel close.
//  3. The final [ImportResult] is available from [Service.GetImportResult]
//     until the reaper started by [Service.StartReaper] forgets it.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB007: Sink errors (connections, timeouts, locks)
//   - FILE001-FILE006: Upload errors (size, encoding, format)
//   - IMP001-IMP006: Import errors (cancelled, busy, not found, bad query)
//   - REQ001: Malformed API requests
//   - RATE001: Request rate limit exceeded
package core
