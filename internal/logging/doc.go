// Package logging sets up structured slog logging for vgrep.
//
// Without --debug the CLI logs warnings to stderr only. With --debug, JSON
// logs at debug level go to a size-rotated file under ~/.vgrep/logs/ as well.
// The MCP server logs to the file only, since stdout carries the protocol.
package logging
