// Package fgcore is the logging core of a robotics/observability SDK.
//
// It binds typed message channels to one or more sinks (an MCAP file,
// a local WebSocket server, a remote relay) and fans out every logged
// message to the sinks currently subscribed to that channel. See
// Context, Channel and Sink for the three load-bearing types.
package fgcore
