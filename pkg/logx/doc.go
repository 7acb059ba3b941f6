// Package logx is feedbot's logger: a zerolog wrapper with typed fields,
// per-component children (With) and sinks that can be swapped at runtime
// through Service.Apply when the config file changes.
//
// Warnings and errors can also be forwarded to the operator's Telegram chat,
// throttled so a failing feed cannot flood it.
package logx
