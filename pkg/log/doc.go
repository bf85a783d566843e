// Package log provides structured logging for dfms using zerolog: a global
// Logger initialized once via Init, and component/identity-scoped child
// loggers (WithComponent, WithOID, WithUID, WithSession) for tagging log
// lines with the graph entity they concern.
package log
