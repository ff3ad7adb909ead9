// Package unix implements the frame transport over Unix domain sockets, for
// clients and nodes that share a machine. Framing and worker pools come from the
// base package.
//
// The default server read buffer is 64 KB.
package unix
