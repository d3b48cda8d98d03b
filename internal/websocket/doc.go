// Package websocket pushes license engine state changes to the local UI.
//
// A Hub owns the connected clients; Handler upgrades /ws requests from
// loopback origins and TransitionNotifier adapts engine transitions into
// license:transition messages.
package websocket
