package gateway

import "sync/atomic"

type stats struct {
	connections    atomic.Int64
	disconnections atomic.Int64
	eventsEmitted  atomic.Int64
	eventsReceived atomic.Int64
	authFailures   atomic.Int64
	commands       atomic.Int64
}

// Stats is the counter snapshot served on /health.
type Stats struct {
	Status         string `json:"status"`
	Connections    int64  `json:"connections"`
	Disconnections int64  `json:"disconnections"`
	EventsEmitted  int64  `json:"eventsEmitted"`
	EventsReceived int64  `json:"eventsReceived"`
	AuthFailures   int64  `json:"authFailures"`
	Commands       int64  `json:"commands"`
	ActiveSockets  int    `json:"activeSockets"`
	Rooms          int    `json:"rooms"`
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	rooms, sockets := s.hub.size()
	return Stats{
		Status:         "ok",
		Connections:    s.stats.connections.Load(),
		Disconnections: s.stats.disconnections.Load(),
		EventsEmitted:  s.stats.eventsEmitted.Load(),
		EventsReceived: s.stats.eventsReceived.Load(),
		AuthFailures:   s.stats.authFailures.Load(),
		Commands:       s.stats.commands.Load(),
		ActiveSockets:  sockets,
		Rooms:          rooms,
	}
}
