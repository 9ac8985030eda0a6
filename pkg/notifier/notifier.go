// Package notifier fans out Environment status, log lines, and metric
// samples to subscribed client sessions over persistent websocket
// connections. It maintains a two-dimensional subscription index keyed by
// environment id (status and log subscribers) and by owner/project id
// (metrics subscribers), mirroring the subscriber-map-plus-broadcast shape
// of an in-memory pub/sub broker but addressed by target rather than
// broadcast to every session.
package notifier

import (
	"sync"
	"time"

	"github.com/envforge/envforge/pkg/types"
)

// sendBuffer is the per-session outbound queue depth. A session whose
// consumer falls behind drops the oldest queued envelope rather than
// blocking the publisher.
const sendBuffer = 50

// StatusEnvelope is the wire shape of an environment-status event.
type StatusEnvelope struct {
	Type          string `json:"type"`
	EnvironmentID string `json:"environmentId"`
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	UpdatedAt     string `json:"updatedAt"`
}

// LogEnvelope is the wire shape of one log line.
type LogEnvelope struct {
	Type          string `json:"type"`
	EnvironmentID string `json:"environmentId"`
	Service       string `json:"service"`
	Line          string `json:"line"`
	Timestamp     string `json:"timestamp"`
}

// MetricPoint is one sample inside a MetricsEnvelope.
type MetricPoint struct {
	MetricType  string  `json:"metricType"`
	MetricName  string  `json:"metricName"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	ContainerID string  `json:"containerId,omitempty"`
	RecordedAt  string  `json:"recordedAt"`
}

// MetricsEnvelope is the wire shape of a METRICS_UPDATE event.
type MetricsEnvelope struct {
	Type      string        `json:"type"`
	ProjectID string        `json:"projectId"`
	Metrics   []MetricPoint `json:"metrics"`
	Timestamp string        `json:"timestamp"`
}

// Notifier holds the subscription index and publishes envelopes to the
// sessions registered against each target. The zero value is not usable;
// build one with New.
type Notifier struct {
	mu        sync.RWMutex
	byEnv     map[string]map[*Session]struct{}
	byProject map[string]map[*Session]struct{}
}

// New builds an empty Notifier.
func New() *Notifier {
	return &Notifier{
		byEnv:     make(map[string]map[*Session]struct{}),
		byProject: make(map[string]map[*Session]struct{}),
	}
}

// subscribeEnv adds sess to environmentID's subscriber set.
func (n *Notifier) subscribeEnv(environmentID string, sess *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.byEnv[environmentID]
	if !ok {
		set = make(map[*Session]struct{})
		n.byEnv[environmentID] = set
	}
	set[sess] = struct{}{}
}

func (n *Notifier) unsubscribeEnv(environmentID string, sess *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if set, ok := n.byEnv[environmentID]; ok {
		delete(set, sess)
		if len(set) == 0 {
			delete(n.byEnv, environmentID)
		}
	}
}

// subscribeProject adds sess to projectID's metrics subscriber set.
func (n *Notifier) subscribeProject(projectID string, sess *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.byProject[projectID]
	if !ok {
		set = make(map[*Session]struct{})
		n.byProject[projectID] = set
	}
	set[sess] = struct{}{}
}

func (n *Notifier) unsubscribeProject(projectID string, sess *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if set, ok := n.byProject[projectID]; ok {
		delete(set, sess)
		if len(set) == 0 {
			delete(n.byProject, projectID)
		}
	}
}

// removeSession drops sess from every index it may appear in. Called once
// a session's connection closes or its write loop errors.
func (n *Notifier) removeSession(sess *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, set := range n.byEnv {
		delete(set, sess)
		if len(set) == 0 {
			delete(n.byEnv, id)
		}
	}
	for id, set := range n.byProject {
		delete(set, sess)
		if len(set) == 0 {
			delete(n.byProject, id)
		}
	}
}

// PublishStatus broadcasts env's current status to every session subscribed
// to env.ID. It implements pkg/orchestrator.Notifier so the Orchestrator
// never imports this package's transport details.
func (n *Notifier) PublishStatus(env *types.Environment) {
	now := time.Now().UTC().Format(time.RFC3339)
	envelope := StatusEnvelope{
		Type:          "environment-status",
		EnvironmentID: env.ID,
		Status:        string(env.Status),
		Timestamp:     now,
		UpdatedAt:     env.UpdatedAt.UTC().Format(time.RFC3339),
	}

	n.mu.RLock()
	subs := n.byEnv[env.ID]
	targets := make([]*Session, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	n.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(envelope)
	}
}

// PublishLogLine broadcasts one log line to environmentID's subscribers.
func (n *Notifier) PublishLogLine(environmentID, service, line string) {
	envelope := LogEnvelope{
		Type:          "log-line",
		EnvironmentID: environmentID,
		Service:       service,
		Line:          line,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	n.mu.RLock()
	subs := n.byEnv[environmentID]
	targets := make([]*Session, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	n.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(envelope)
	}
}

// PublishMetrics broadcasts samples to projectID's metrics subscribers.
func (n *Notifier) PublishMetrics(projectID string, samples []*types.MetricSample) {
	points := make([]MetricPoint, 0, len(samples))
	for _, s := range samples {
		points = append(points, MetricPoint{
			MetricType:  string(s.Kind),
			MetricName:  s.Name,
			Value:       s.Value,
			Unit:        s.Unit,
			ContainerID: s.ContainerID,
			RecordedAt:  s.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	envelope := MetricsEnvelope{
		Type:      "METRICS_UPDATE",
		ProjectID: projectID,
		Metrics:   points,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	n.mu.RLock()
	subs := n.byProject[projectID]
	targets := make([]*Session, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	n.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(envelope)
	}
}

// SubscriberCount reports how many sessions are subscribed to target,
// mainly for metrics/diagnostics.
func (n *Notifier) SubscriberCount(environmentID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.byEnv[environmentID])
}
