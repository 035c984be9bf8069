package lobby

import "sync/atomic"

// Counters instruments traffic and protocol events. Every field is
// monotonically increasing over the life of the process. The loop
// goroutine is the only writer; atomics let observers snapshot without
// touching the loop.
type Counters struct {
	GamesHosted    atomic.Uint64
	GamesStarted   atomic.Uint64
	GamesCancelled atomic.Uint64
	GamesDropped   atomic.Uint64

	NewHosts             atomic.Uint64
	DroppedHostedPokes   atomic.Uint64
	FailedGameInfoAllocs atomic.Uint64
	UpdateRequestsSent   atomic.Uint64
	RetriesSent          atomic.Uint64

	PacketsReceived atomic.Uint64
	BytesReceived   atomic.Uint64
	PacketsSent     atomic.Uint64
	BytesSent       atomic.Uint64
	SendErrors      atomic.Uint64

	MinSizeErrors       atomic.Uint64
	SizeFieldErrors     atomic.Uint64
	TypeFieldErrors     atomic.Uint64
	ChecksumFieldErrors atomic.Uint64
}

// CountersSnapshot is a point-in-time copy of all counters.
type CountersSnapshot struct {
	GamesHosted    uint64 `json:"games_hosted"`
	GamesStarted   uint64 `json:"games_started"`
	GamesCancelled uint64 `json:"games_cancelled"`
	GamesDropped   uint64 `json:"games_dropped"`

	NewHosts             uint64 `json:"new_hosts"`
	DroppedHostedPokes   uint64 `json:"dropped_hosted_pokes"`
	FailedGameInfoAllocs uint64 `json:"failed_game_info_allocs"`
	UpdateRequestsSent   uint64 `json:"update_requests_sent"`
	RetriesSent          uint64 `json:"retries_sent"`

	PacketsReceived uint64 `json:"packets_received"`
	BytesReceived   uint64 `json:"bytes_received"`
	PacketsSent     uint64 `json:"packets_sent"`
	BytesSent       uint64 `json:"bytes_sent"`
	SendErrors      uint64 `json:"send_errors"`

	MinSizeErrors       uint64 `json:"min_size_errors"`
	SizeFieldErrors     uint64 `json:"size_field_errors"`
	TypeFieldErrors     uint64 `json:"type_field_errors"`
	ChecksumFieldErrors uint64 `json:"checksum_field_errors"`
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		GamesHosted:    c.GamesHosted.Load(),
		GamesStarted:   c.GamesStarted.Load(),
		GamesCancelled: c.GamesCancelled.Load(),
		GamesDropped:   c.GamesDropped.Load(),

		NewHosts:             c.NewHosts.Load(),
		DroppedHostedPokes:   c.DroppedHostedPokes.Load(),
		FailedGameInfoAllocs: c.FailedGameInfoAllocs.Load(),
		UpdateRequestsSent:   c.UpdateRequestsSent.Load(),
		RetriesSent:          c.RetriesSent.Load(),

		PacketsReceived: c.PacketsReceived.Load(),
		BytesReceived:   c.BytesReceived.Load(),
		PacketsSent:     c.PacketsSent.Load(),
		BytesSent:       c.BytesSent.Load(),
		SendErrors:      c.SendErrors.Load(),

		MinSizeErrors:       c.MinSizeErrors.Load(),
		SizeFieldErrors:     c.SizeFieldErrors.Load(),
		TypeFieldErrors:     c.TypeFieldErrors.Load(),
		ChecksumFieldErrors: c.ChecksumFieldErrors.Load(),
	}
}

// CounterField pairs a counter name with its value, in presentation order.
type CounterField struct {
	Name  string
	Value uint64
}

// Fields returns the snapshot as an ordered list for table rendering.
func (s CountersSnapshot) Fields() []CounterField {
	return []CounterField{
		{"games_hosted", s.GamesHosted},
		{"games_started", s.GamesStarted},
		{"games_cancelled", s.GamesCancelled},
		{"games_dropped", s.GamesDropped},
		{"new_hosts", s.NewHosts},
		{"dropped_hosted_pokes", s.DroppedHostedPokes},
		{"failed_game_info_allocs", s.FailedGameInfoAllocs},
		{"update_requests_sent", s.UpdateRequestsSent},
		{"retries_sent", s.RetriesSent},
		{"packets_received", s.PacketsReceived},
		{"bytes_received", s.BytesReceived},
		{"packets_sent", s.PacketsSent},
		{"bytes_sent", s.BytesSent},
		{"send_errors", s.SendErrors},
		{"min_size_errors", s.MinSizeErrors},
		{"size_field_errors", s.SizeFieldErrors},
		{"type_field_errors", s.TypeFieldErrors},
		{"checksum_field_errors", s.ChecksumFieldErrors},
	}
}

// Map returns the snapshot keyed by counter name, for telemetry payloads.
func (s CountersSnapshot) Map() map[string]uint64 {
	m := make(map[string]uint64, 18)
	for _, f := range s.Fields() {
		m[f.Name] = f.Value
	}
	return m
}
