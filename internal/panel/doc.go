// Package panel serves the browser operator console.
//
// The console is a single static page embedded with go:embed. It talks to
// the REST API with a pasted access token and follows command and
// scheduler events over the WebSocket, so the package itself has no API
// dependencies.
package panel
