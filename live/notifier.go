package live

import "encoding/json"

// Notifier pushes a cursor-advance notification to every session watching a
// scope. It does not depend on the provider package, so a caller can
// forward context-CSN advancement to live sessions without either package
// importing the other; the provider does not call it itself.
type Notifier interface {
	Notify(scope string, cursor uint64)
}

type topicNotifier struct {
	srv    *Server
	prefix string
}

// SyncNotifier returns a Notifier that publishes to "<prefix><scope>" on
// srv, carrying cursor as {"cursor":N} in the message body.
func SyncNotifier(srv *Server, prefix string) Notifier {
	return &topicNotifier{srv: srv, prefix: prefix}
}

func (n *topicNotifier) Notify(scope string, cursor uint64) {
	body, err := json.Marshal(struct {
		Cursor uint64 `json:"cursor"`
	}{Cursor: cursor})
	if err != nil {
		return
	}
	topic := n.prefix + scope
	n.srv.Publish(topic, Message{Type: "sync", Topic: topic, Body: body})
}
