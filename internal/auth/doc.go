// Package auth provides identity and authorisation for Pulse Core.
//
// Callers present HS256 access tokens carrying the requester ID (sub),
// a display label (name) and a role. There is no account store: the
// front end that relays chat commands, or an operator using pulsectl,
// mints tokens with the shared secret.
//
// Two roles exist:
//   - user: submit commands, read status and devices
//   - operator: everything a user can do, plus stop-all, lock, unlock
//     and the audit journal
//
// The role-permission mapping is static and checked without any lookup.
package auth
