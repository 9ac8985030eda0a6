/*
Package network publishes container ports onto the host via iptables.

HostPortPublisher installs a PREROUTING DNAT rule, a POSTROUTING MASQUERADE
rule, and a FORWARD accept rule per published container, and removes all
three on Unpublish. It does not decide which host port to use — port
selection and lease bookkeeping live in pkg/portalloc; this package only
carries out what that allocation decided.

Usage:

	pub := network.NewHostPortPublisher()
	err := pub.Publish(containerID, containerIP, hostPort, containerPort, "tcp")
	...
	err = pub.Unpublish(containerID)
*/
package network
