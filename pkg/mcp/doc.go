// Package mcp connects configured Model Context Protocol servers and exposes
// their tools through a tools.Registry.
//
// Each server's tools are registered as "<server>__<tool>" with kind mcp and
// always require approval. A server that fails to start is reported in
// Servers() and does not affect the others.
package mcp
