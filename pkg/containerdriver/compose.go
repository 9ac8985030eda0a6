package containerdriver

import (
	"fmt"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"

	"github.com/envforge/envforge/pkg/errdefs"
)

// ParsedService is one service extracted from a Template's compose-style
// Document, ready to become a Container Instance.
type ParsedService struct {
	Name          string
	Image         string
	Env           []string
	Command       []string
	ContainerPort int
	Protocol      string
	DependsOn     []string
	MemoryMiB     int64
	CPULimit      float64
}

// ParseDocument loads a compose-style document into an ordered, dependency-
// validated list of services. It rejects a missing image, an undeclared
// depends_on target, and a depends_on cycle.
func ParseDocument(document string) ([]ParsedService, error) {
	details := composetypes.ConfigDetails{
		ConfigFiles: []composetypes.ConfigFile{{Filename: "environment.yml", Content: []byte(document)}},
		Environment: map[string]string{},
	}

	project, err := loader.Load(details, func(o *loader.Options) { o.SkipValidation = false })
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidState, "parse environment document", err)
	}

	services := make([]ParsedService, 0, len(project.Services))
	names := make(map[string]bool, len(project.Services))
	for _, svc := range project.Services {
		if svc.Image == "" {
			return nil, errdefs.New(errdefs.KindInvalidState, fmt.Sprintf("service %q has no image", svc.Name))
		}
		names[svc.Name] = true
	}

	for _, svc := range project.Services {
		ps := ParsedService{
			Name:    svc.Name,
			Image:   svc.Image,
			Command: []string(svc.Command),
		}
		for k, v := range svc.Environment {
			if v != nil {
				ps.Env = append(ps.Env, k+"="+*v)
			} else {
				ps.Env = append(ps.Env, k)
			}
		}
		for dep := range svc.DependsOn {
			if !names[dep] {
				return nil, errdefs.New(errdefs.KindInvalidState,
					fmt.Sprintf("service %q depends_on undeclared service %q", svc.Name, dep))
			}
			ps.DependsOn = append(ps.DependsOn, dep)
		}
		if len(svc.Ports) > 0 {
			ps.ContainerPort = int(svc.Ports[0].Target)
			ps.Protocol = svc.Ports[0].Protocol
		}
		if svc.MemLimit > 0 {
			ps.MemoryMiB = int64(svc.MemLimit) / (1024 * 1024)
		}
		if svc.CPUS > 0 {
			ps.CPULimit = float64(svc.CPUS)
		}
		services = append(services, ps)
	}

	if err := checkAcyclic(services); err != nil {
		return nil, err
	}

	return topoSort(services), nil
}

func checkAcyclic(services []ParsedService) error {
	deps := make(map[string][]string, len(services))
	for _, s := range services {
		deps[s.Name] = s.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(services))

	var visit func(name string, stack []string) error
	visit = func(name string, stack []string) error {
		switch color[name] {
		case gray:
			return errdefs.New(errdefs.KindInvalidState,
				fmt.Sprintf("depends_on cycle detected: %v", append(stack, name)))
		case black:
			return nil
		}
		color[name] = gray
		for _, dep := range deps[name] {
			if err := visit(dep, append(stack, name)); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, s := range services {
		if err := visit(s.Name, nil); err != nil {
			return err
		}
	}
	return nil
}

// topoSort orders services so each appears after everything it depends_on,
// so the driver can start them in dependency order.
func topoSort(services []ParsedService) []ParsedService {
	byName := make(map[string]ParsedService, len(services))
	for _, s := range services {
		byName[s.Name] = s
	}

	var ordered []ParsedService
	visited := make(map[string]bool, len(services))

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, dep := range byName[name].DependsOn {
			visit(dep)
		}
		ordered = append(ordered, byName[name])
	}

	for _, s := range services {
		visit(s.Name)
	}
	return ordered
}
