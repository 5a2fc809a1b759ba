// Package server implements the WebSocket gateway of the presence service.
//
// A Gateway owns one process's Hub (the live connections and their local room
// groups), a directory.Directory holding the shared user directory and room
// set, and a backplane.Backplane that carries every outbound frame to every
// process. Inbound events are decoded and validated by the client read pump
// and dispatched through Gateway.HandleEvent; presence, room and routing
// operations live in their own files.
package server
