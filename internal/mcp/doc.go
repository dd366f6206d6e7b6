// Package mcp serves talkd's admin operations over the Model Context
// Protocol (github.com/modelcontextprotocol/go-sdk/mcp).
//
// Tools cover the engagement agent (status, start and stop, recent
// activity, settings), the voice catalog for a tier, and a tool_search
// index over the registered tools. The server runs on stdio via
// `talkd mcp`.
package mcp
