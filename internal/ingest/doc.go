// Package ingest implements the bulk call-log import pipeline.
//
// A run moves through four stages:
//
//	raw text → ParseRows → Chunk → ParseChunks → Scheduler → Sink
//
// Rows are split with a lenient quoted-field parser, mapped onto canonical
// field names by a Mapper, and fanned out to a bounded set of parse
// goroutines. The resulting records are grouped into fixed-size batches and
// written through a Sink a bounded number of batches at a time. A Reporter
// observes every stage boundary and produces progress events and a final
// Metrics snapshot.
//
// Row-level problems never fail a run. A row that cannot be mapped is
// rejected and counted, and a batch whose sink call errors is counted as
// failed. The only hard failure is a sink that cannot be reached before
// the first batch (ErrSinkUnreachable).
package ingest
