package metrics

import (
	"time"

	"github.com/envforge/envforge/pkg/storage"
)

// Collector periodically refreshes the gauge metrics that reflect current
// counts (environments by status, container instances by state, and so on)
// by re-reading the repository, rather than being pushed updates from every
// call site.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector builds a Collector reading from store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins the collection loop on a 15s tick, collecting once
// immediately before the first tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectEnvironmentMetrics()
	c.collectTemplateMetrics()
	c.collectContainerMetrics()
}

func (c *Collector) collectEnvironmentMetrics() {
	envs, err := c.store.ListEnvironments()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, e := range envs {
		counts[string(e.Status)]++
	}
	EnvironmentsTotal.Reset()
	for status, count := range counts {
		EnvironmentsTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectTemplateMetrics() {
	templates, err := c.store.ListTemplates()
	if err != nil {
		return
	}
	TemplatesTotal.Set(float64(len(templates)))
}

func (c *Collector) collectContainerMetrics() {
	envs, err := c.store.ListEnvironments()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, e := range envs {
		containers, err := c.store.ListContainerInstancesByEnvironment(e.ID)
		if err != nil {
			continue
		}
		for _, ci := range containers {
			counts[string(ci.Status)]++
		}
	}
	ContainersTotal.Reset()
	for state, count := range counts {
		ContainersTotal.WithLabelValues(state).Set(float64(count))
	}
}
