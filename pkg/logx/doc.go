// Package logx is serverwatch's structured logger: a thin layer over zerolog
// whose outputs can be swapped at runtime when the config file changes.
//
// Console output is human readable, the optional file output is JSON, and
// warnings can be mirrored to an operator chat through a ChatSink.
package logx
