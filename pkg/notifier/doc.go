/*
Package notifier fans live Environment state out to subscribed clients over
persistent websocket connections: status transitions, log lines, and metric
batches, each addressed to the sessions subscribed to the relevant
environment or project id rather than broadcast to every connection.

A Notifier holds two subscription indices, (environment id -> sessions) and
(project id -> sessions), both guarded by a single read-write lock. PublishStatus,
PublishLogLine, and PublishMetrics look up the relevant index and enqueue an
envelope on every matching session's outbound queue; PublishStatus satisfies
the narrow Notifier interface pkg/orchestrator depends on, so the
orchestrator never imports a websocket library directly.

A Session wraps one connection. It requires an already-verified principal:
the HTTP layer that accepts incoming connections and authenticates callers
is excluded from this core, so NewSession and ServeSession simply refuse a
session with no principal rather than attempting any verification
themselves. Once running, a session's write pump drains its outbound queue
to the socket and pings on an interval; its read pump decodes client
{action, environmentId|projectId} commands (SUBSCRIBE, UNSUBSCRIBE, PING)
and updates the relevant index. Delivery is best-effort: a session whose
queue is full drops its oldest pending envelope and counts a lag rather than
blocking the publisher, and a session that errors on read or write is
removed from every index it was part of.

Usage:

	n := notifier.New()
	orch := orchestrator.New(store, guard, driver, iaasDriver, ports, hooks, n, orchestrator.Config{})
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		principal := verifyPrincipal(r) // owned by the excluded HTTP layer
		if principal == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		n.ServeSession(w, r, principal)
	})
*/
package notifier
