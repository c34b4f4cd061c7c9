// Package audit keeps a durable journal of scheduler activity in the
// audit_logs table.
//
// Every admission decision, finished execution, lock change and
// emergency stop is recorded by Recorder, which implements
// scheduler.Observer and writes asynchronously so scheduler callbacks
// never wait on SQLite. Finished executions are also sent to InfluxDB
// when telemetry is enabled.
//
// Actions:
//   - submit:   entity "command", result is the admission status
//   - execute:  entity "command", result is the outcome status
//   - lock, unlock: entity "scheduler"
//   - stop_all: entity "scheduler", details carry the stop counts
package audit
