// Package logx wraps zerolog behind a small structured-logging API.
//
// The Service owns the root logger and can swap level and sinks at
// runtime (config hot reload), so components hold a live Logger that
// never needs to be rebuilt.
package logx
