// Package audit records the closed set of authorization-relevant events
// the gateway emits: capability grants, authorization decisions, denials,
// revocations, delegations, and session lifecycle. Sink is the append
// (and optionally query) collaborator; MemorySink and LogSink are the
// reference implementations, with a durable or blockchain-backed sink
// being a host application's concern rather than this module's.
package audit
