/*
Package template is the single place Template invariants are enforced:
port range, memory/CPU range, infrastructure-kind/IaaS-template/Document
consistency, visibility/owner consistency, and (delegated to the existing
parsers) a well-formed compose document or IaaS module.

Usage:

	if err := template.Validate(tmpl, hookRegistry); err != nil {
		return err
	}
	if err := store.CreateTemplate(tmpl); err != nil {
		return err
	}
*/
package template
