// Package memory records an append-only history of notable events per
// project: planning decisions, retries, fallbacks, gate verdicts.
//
// Writes are fire-and-forget so no recording path can ever slow down task
// flow. Entries pass through a bounded queue drained by a background worker;
// when the queue is full the entry is dropped with a warning rather than
// blocking the caller. Query is a best-effort substring scan meant for
// inspection and debugging, not retrieval-quality search.
package memory
