// Package processor provides the gate every routed request passes before it is
// executed. The coordinator pauses it around route mutations and flushes; the
// rpc server runs requests through it.
package processor
