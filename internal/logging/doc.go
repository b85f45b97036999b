// Package logging provides structured logging for loopcore built on Zap.
//
// The Logger is context-aware: cycle correlation data attached to a
// context.Context (see WithCycleID) is appended to every log line, so all
// logs emitted during one loop cycle can be grouped after the fact.
package logging
