// Package device models the physical output devices driven by Pulse Core.
//
// A Device exposes one or more actuators per Capability (vibrate, rotate,
// linear). Actuation takes a level vector with one entry per actuator,
// each in [0,1]; see Device.Levels.
//
// The Registry is an in-memory inventory. It is populated from the
// device bridge's retained announcements and is never persisted: the
// bridge is the source of truth for what is connected.
//
// # Thread Safety
//
// Registry methods are safe for concurrent use. Devices are values, so
// everything returned is already a copy.
package device
