package lobby

import (
	"context"
	"fmt"
	"time"
)

// GameSummary is the observer-facing view of one registry entry.
type GameSummary struct {
	Endpoint   string  `json:"endpoint"`
	SessionID  string  `json:"session_id,omitempty"`
	Creator    string  `json:"creator,omitempty"`
	MaxPlayers uint8   `json:"max_players,omitempty"`
	GameType   int32   `json:"game_type,omitempty"`
	Advertised bool    `json:"advertised"`
	AgeSeconds float64 `json:"age_seconds"`
}

// Snapshot is a read-only view of the lobby taken on the loop goroutine.
type Snapshot struct {
	ServerName string           `json:"server_name"`
	Port       int              `json:"port"`
	StartedAt  time.Time        `json:"started_at"`
	Games      []GameSummary    `json:"games"`
	Counters   CountersSnapshot `json:"counters"`
}

// Snapshot requests a consistent view of the registry and counters from
// the event loop. It blocks until the loop services the request or the
// context expires; the loop answers within its one-second readiness wait.
func (l *Lobby) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)

	select {
	case l.snapshotCh <- reply:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// buildSnapshot runs on the loop goroutine.
func (l *Lobby) buildSnapshot() Snapshot {
	sd := l.cfg.GetServerData()
	now := l.now()

	games := make([]GameSummary, 0, l.reg.len())
	for _, g := range l.reg.games {
		summary := GameSummary{
			Endpoint:   g.Addr.String(),
			Advertised: g.flags&flagReceived != 0,
			AgeSeconds: now.Sub(g.time).Seconds(),
		}
		if summary.Advertised {
			summary.SessionID = fmt.Sprintf("%x", g.SessionIdentifier[:])
			summary.Creator = g.CreateGameInfo.CreatorName()
			summary.MaxPlayers = g.CreateGameInfo.MaxPlayers
			summary.GameType = g.CreateGameInfo.GameType
		}
		games = append(games, summary)
	}

	return Snapshot{
		ServerName: sd.Name,
		Port:       sd.Port,
		StartedAt:  l.startedAt,
		Games:      games,
		Counters:   l.counters.Snapshot(),
	}
}
