// Package gateway runs a bot on its configured channels.
//
// A Gateway opens the SQLite store, builds a Bot Framework and/or Matrix
// adapter with one botkit.Controller each, and applies the caller's Setup to
// every controller so the same handlers answer on all channels.
//
// Run serves the HTTP routes (/health, /health/ready and the Bot Framework
// webhook) on a TCP address or a tailscale node, and runs the Matrix sync
// loop next to it. Cancelling the context shuts everything down and closes
// the store.
package gateway
