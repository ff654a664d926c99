// Package telemetry wires structured, context-scoped logging the same way
// the teacher's cmd/assistant and registry packages do: a context carries
// the logger, goa.design/clue/log does the formatting, and callers attach
// fields with log.KV rather than building ad hoc strings.
package telemetry

import (
	"context"
	"time"

	"goa.design/clue/log"
)

// NewContext returns a context carrying a configured clue logger: JSON
// output when stdout is not a terminal (the production/CI case), terminal
// output otherwise, matching cmd/assistant/main.go's format selection.
func NewContext(debug bool) context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}

// Snapshot logs that a snapshot was persisted.
func Snapshot(ctx context.Context, name string, graphs int) {
	log.Print(ctx, log.KV{K: "event", V: "snapshot"}, log.KV{K: "name", V: name}, log.KV{K: "graphs", V: graphs})
}

// Scheduled logs that optimize selected a Protocol as the next token to
// enqueue.
func Scheduled(ctx context.Context, id, name string, at time.Time) {
	log.Print(ctx, log.KV{K: "event", V: "protocol_scheduled"}, log.KV{K: "id", V: id}, log.KV{K: "name", V: name}, log.KV{K: "scheduled_time", V: at.Format(time.RFC3339)})
}

// ProtocolStarted logs that a Protocol began running on the instrument.
func ProtocolStarted(ctx context.Context, id, name string) {
	log.Print(ctx, log.KV{K: "event", V: "protocol_started"}, log.KV{K: "id", V: id}, log.KV{K: "name", V: name})
}

// ProtocolFinished logs that a Protocol completed.
func ProtocolFinished(ctx context.Context, id, name string) {
	log.Print(ctx, log.KV{K: "event", V: "protocol_finished"}, log.KV{K: "id", V: id}, log.KV{K: "name", V: name})
}

// DriverFailure logs a fatal driver error for the named Protocol.
func DriverFailure(ctx context.Context, id, name string, err error) {
	log.Error(ctx, err, log.KV{K: "event", V: "driver_failure"}, log.KV{K: "id", V: id}, log.KV{K: "name", V: name})
}

// Fatal logs err and terminates the process, matching main.go's use of
// log.Fatal for unrecoverable startup errors.
func Fatal(ctx context.Context, err error, msg string) {
	log.Fatal(ctx, err, log.KV{K: "msg", V: msg})
}
