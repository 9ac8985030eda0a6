package notifier

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader has no origin check of its own: CORS/origin policy is part of
// the excluded HTTP layer, not this core.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeSession upgrades an already-authenticated HTTP request to a
// websocket connection and runs the resulting Session until it closes.
// principal must be non-empty: the caller (the excluded HTTP layer) is
// responsible for verifying it before calling ServeSession, per the
// notifier's refusal of unauthenticated sessions.
func (n *Notifier) ServeSession(w http.ResponseWriter, r *http.Request, principal string) error {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sess, err := n.NewSession(wsConn, principal)
	if err != nil {
		wsConn.Close()
		return err
	}
	sess.Run()
	return nil
}
