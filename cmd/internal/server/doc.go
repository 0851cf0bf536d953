// Package server owns the listening side of vecavg: the TCP acceptor and the optional
// WebSocket transport. Both hand connections to a ConnHandler through a shared Gate; the
// default gate admits one session at a time regardless of transport.
package server
