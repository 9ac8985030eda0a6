/*
Package containerdriver runs an Environment's compose-style document as a
group of containers on the local containerd engine.

Engine wraps the low-level containerd client (pull, create, start, stop,
destroy, status, container IP) scoped to the envforge namespace. ParseDocument
loads a Template's Document with compose-go, rejecting a missing image, an
undeclared depends_on target, or a depends_on cycle, and returns services in
dependency order. Driver composes the two: CreateGroup/StartGroup/StopGroup/
DestroyGroup operate on every Container Instance belonging to an Environment
at once. StartGroup publishes, via pkg/network, the host port already
recorded for each service's ContainerPort in Environment.Ports (it reserves
none itself); DestroyGroup releases the Environment's leases through
pkg/portalloc. When built with a LogSink,
StartGroup also captures each container's stdout/stderr and forwards every
line to it, tagged by service name and stream.

Usage:

	engine, err := containerdriver.NewEngine("")
	driver := containerdriver.New(engine, network.NewHostPortPublisher(), ports, store, notify)

	instances, err := driver.CreateGroup(ctx, env, template.Document)
	err = driver.StartGroup(ctx, env.ID)
	...
	err = driver.DestroyGroup(ctx, env.ID)
*/
package containerdriver
