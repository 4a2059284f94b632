package app

import (
	"encoding/json"

	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/rs/zerolog/log"
)

// deliverer serializes one message and hands it to a connection, at most once.
type deliverer struct {
	policy Policy
}

func (d deliverer) send(id domain.UserID, conn core.SignalConnection, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.deliver").Msg("marshal")
		return err
	}
	if err := conn.TrySend(b); err != nil {
		action := DropFrame
		if d.policy != nil {
			action = d.policy.OnBackPressure(id, conn)
		}
		log.Warn().Err(err).Str("module", "app.deliver").Str("user", string(id)).Int("action", int(action)).Msg("frame not delivered")
		if action == CloseConnection {
			conn.Close()
		}
		return err
	}
	return nil
}
