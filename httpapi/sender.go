package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/dirsync/syncprov/live"
	"github.com/dirsync/syncprov/provider"
)

// liveSender adapts a *live.Session into the provider.Sender interface a
// persist-phase Session delivers notifications through: every value Emit
// hands it is a provider.Delivery, which it wire-encodes the same way a
// refresh response would and pushes out over the WebSocket connection.
type liveSender struct {
	session *live.Session
}

// newLiveSender wraps s so the provider package can deliver to it without
// importing live.
func newLiveSender(s *live.Session) *liveSender { return &liveSender{session: s} }

func (l *liveSender) Send(v any) error {
	d, ok := v.(provider.Delivery)
	if !ok {
		return fmt.Errorf("httpapi: live sender got unexpected value %T", v)
	}
	body, err := json.Marshal(newDeliveryWire(d))
	if err != nil {
		return err
	}
	return l.session.Send(live.Message{Type: "delivery", Body: body})
}
