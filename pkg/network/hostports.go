// Package network publishes container ports onto the host via iptables, so
// a Container Instance's ContainerPort is reachable at its allocated
// HostPort without attaching the orchestrator process to the container's
// network namespace.
package network

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// HostPortPublisher installs and tears down the iptables rules for one
// container's published port: a PREROUTING DNAT rule, a POSTROUTING
// MASQUERADE rule for return traffic, and a FORWARD accept rule.
type HostPortPublisher struct {
	mu        sync.Mutex
	published map[string]publishedPort // containerID -> rule
}

type publishedPort struct {
	containerIP   string
	containerPort int
	hostPort      int
	protocol      string
}

// NewHostPortPublisher returns a publisher with no rules installed.
func NewHostPortPublisher() *HostPortPublisher {
	return &HostPortPublisher{published: make(map[string]publishedPort)}
}

// Publish forwards hostPort on the host to containerPort on containerIP for
// containerID. Protocol defaults to tcp when empty.
func (p *HostPortPublisher) Publish(containerID, containerIP string, hostPort, containerPort int, protocol string) error {
	if protocol == "" {
		protocol = "tcp"
	}
	protocol = strings.ToLower(protocol)

	rule := publishedPort{containerIP: containerIP, containerPort: containerPort, hostPort: hostPort, protocol: protocol}

	if err := runIPTables(dnatArgs("-A", rule)); err != nil {
		return fmt.Errorf("add DNAT rule: %w", err)
	}
	if err := runIPTables(masqueradeArgs("-A", rule)); err != nil {
		runIPTables(dnatArgs("-D", rule))
		return fmt.Errorf("add MASQUERADE rule: %w", err)
	}
	if err := runIPTables(forwardArgs("-A", rule)); err != nil {
		runIPTables(masqueradeArgs("-D", rule))
		runIPTables(dnatArgs("-D", rule))
		return fmt.Errorf("add FORWARD rule: %w", err)
	}

	p.mu.Lock()
	p.published[containerID] = rule
	p.mu.Unlock()
	return nil
}

// Unpublish removes the rules installed for containerID. It is a no-op if
// nothing is published for that id.
func (p *HostPortPublisher) Unpublish(containerID string) error {
	p.mu.Lock()
	rule, ok := p.published[containerID]
	if ok {
		delete(p.published, containerID)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	runIPTables(forwardArgs("-D", rule))
	runIPTables(masqueradeArgs("-D", rule))
	runIPTables(dnatArgs("-D", rule))
	return nil
}

func dnatArgs(action string, r publishedPort) []string {
	return []string{
		"-t", "nat", action, "PREROUTING",
		"-p", r.protocol,
		"--dport", fmt.Sprintf("%d", r.hostPort),
		"-j", "DNAT",
		"--to-destination", fmt.Sprintf("%s:%d", r.containerIP, r.containerPort),
	}
}

func masqueradeArgs(action string, r publishedPort) []string {
	return []string{
		"-t", "nat", action, "POSTROUTING",
		"-p", r.protocol,
		"-d", r.containerIP,
		"--dport", fmt.Sprintf("%d", r.containerPort),
		"-j", "MASQUERADE",
	}
}

func forwardArgs(action string, r publishedPort) []string {
	return []string{
		action, "FORWARD",
		"-p", r.protocol,
		"-d", r.containerIP,
		"--dport", fmt.Sprintf("%d", r.containerPort),
		"-j", "ACCEPT",
	}
}

func runIPTables(args []string) error {
	cmd := exec.Command("iptables", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables failed: %w (output: %s)", err, string(output))
	}
	return nil
}
