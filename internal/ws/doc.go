// Package ws provides the real-time collaboration layer: WebSocket
// connection handling, per-project rooms, presence tracking and message
// routing.
//
// The package implements:
//   - Conn: a single client connection with serialized outbound sends
//   - Registry: concurrent maps from connections to rooms and presence
//   - Hub: best-effort broadcast fan-out with dead connection pruning
//   - Router: dispatch of typed client messages (auth, files, execution, kick)
//   - Handler: connection lifecycle from admission to removal
package ws
