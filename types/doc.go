// Package types contains the shared data structures of the agentloop
// framework: conversation messages, token counting, and the structured
// error model. It has no dependencies on other agentloop packages so
// that every layer can import it freely.
package types
