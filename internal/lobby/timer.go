package lobby

import (
	"context"
	"time"

	"github.com/outpost-project/rendezvous/internal/events"
)

// Liveness protocol timing. A fresh entry gets initialReplyTime to
// produce its first details reply. An advertised entry is refreshed
// every updateTime, retried once at retryTime, and given up on at
// giveUpTime.
const (
	initialReplyTime = 4 * time.Second
	updateTime       = 60 * time.Second
	retryTime        = 64 * time.Second
	giveUpTime       = 68 * time.Second
)

// doTimedUpdates walks the registry and applies the liveness rules. It
// iterates in reverse so removals do not disturb the indices still to be
// visited.
func (l *Lobby) doTimedUpdates(ctx context.Context) {
	currentTime := l.now()

	for i := l.reg.len() - 1; i >= 0; i-- {
		g := l.reg.games[i]
		timeDiff := currentTime.Sub(g.time)

		switch {
		case timeDiff >= initialReplyTime && g.flags&flagReceived == 0:
			// The host never answered the first details query.
			l.logger.Info().Str("host", g.Addr.String()).Msg("dropping game: no initial host info")
			l.emitGameEvent(ctx, events.EventGameDropped, g, events.DropNoInitialReply)
			l.reg.free(i)
			l.counters.DroppedHostedPokes.Add(1)

		case timeDiff >= updateTime && g.flags&flagReceived != 0:
			if timeDiff >= giveUpTime {
				l.logger.Info().Str("host", g.Addr.String()).Msg("dropping game: lost contact with host")
				l.emitGameEvent(ctx, events.EventGameDropped, g, events.DropLostContact)
				l.reg.free(i)
				l.counters.GamesDropped.Add(1)
			} else if g.flags&flagExpected == 0 {
				l.logger.Debug().Str("host", g.Addr.String()).Msg("requesting game info update")
				l.sendGameInfoRequest(g.Addr, g.ServerRandValue)
				g.flags |= flagExpected
				l.counters.UpdateRequestsSent.Add(1)
			} else if timeDiff >= retryTime && g.flags&flagRetrySent == 0 {
				// Assume the query was dropped and retry once.
				l.logger.Debug().Str("host", g.Addr.String()).Msg("retrying game info update")
				l.sendGameInfoRequest(g.Addr, g.ServerRandValue)
				g.flags |= flagRetrySent
				l.counters.RetriesSent.Add(1)
			}
		}
	}
}
