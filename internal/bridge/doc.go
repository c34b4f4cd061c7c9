// Package bridge connects the scheduler to physical devices through an
// external device bridge process over MQTT.
//
// The bridge process owns the device transport. This package publishes
// actuation commands to it and keeps an in-memory device inventory from
// the retained announcements it publishes:
//
//	pulsecore/command/{device_id}   commands, QoS 1, never retained
//	pulsecore/device/{device_id}    retained announcement, empty payload removes
//	pulsecore/bridge/status         retained {"status":"online"|"offline"}
//
// Bridge implements scheduler.Actuator.
package bridge
