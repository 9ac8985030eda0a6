package orchestrator

import (
	"context"
	"fmt"

	"github.com/envforge/envforge/pkg/log"
	"github.com/envforge/envforge/pkg/types"
)

// provision runs the CREATING -> RUNNING|FAILED path: local compose-group
// creation, or cloud pre-provision/apply/post-provision. It owns
// environmentID's keyed lock for its whole run.
func (o *Orchestrator) provision(environmentID string, tmpl *types.Template) {
	unlock := o.locks.Lock(environmentID)
	defer unlock()

	ctx := context.Background()
	env, err := o.store.GetEnvironment(environmentID)
	if err != nil {
		return
	}

	if env.Infra == types.InfrastructureLocal {
		err = o.provisionLocal(ctx, env, tmpl)
	} else {
		err = o.provisionCloud(ctx, env, tmpl)
	}

	if err != nil {
		o.terminalFail(environmentID, err)
		return
	}

	if _, err := o.transition(environmentID, types.StatusRunning, "", nil); err != nil {
		o.fail(environmentID, err)
	}
}

// terminalFail records provisioning failure as FAILED (not ERROR): a
// provisioning failure is terminal per the state machine, with whatever
// partial resources were created already released by the caller.
func (o *Orchestrator) terminalFail(environmentID string, cause error) {
	if _, err := o.transition(environmentID, types.StatusFailed, cause.Error(), nil); err != nil {
		o.fail(environmentID, err)
	}
}

func (o *Orchestrator) provisionLocal(ctx context.Context, env *types.Environment, tmpl *types.Template) error {
	if _, err := o.driver.CreateGroup(ctx, env, tmpl.Document); err != nil {
		o.driver.DestroyGroup(ctx, env.ID)
		return err
	}
	if err := o.driver.StartGroup(ctx, env.ID); err != nil {
		o.driver.DestroyGroup(ctx, env.ID)
		return err
	}
	return nil
}

func (o *Orchestrator) provisionCloud(ctx context.Context, env *types.Environment, tmpl *types.Template) error {
	hooks, err := o.hooks.Get(env.Infra)
	if err != nil {
		return err
	}

	if err := hooks.PreProvision(ctx, env); err != nil {
		return fmt.Errorf("pre-provision hook: %w", err)
	}

	result, err := o.iaas.Apply(ctx, env, tmpl)
	if err != nil {
		return err
	}

	env.Resources = result.Resources
	env.ArchiveID = result.ArchiveID
	if err := o.store.UpdateEnvironment(env); err != nil {
		return fmt.Errorf("persist apply results: %w", err)
	}

	if err := hooks.PostProvision(ctx, env); err != nil {
		log.WithEnvironmentID(env.ID).Warn().Err(err).Msg("post-provision hook failed; resources already applied")
	}
	return nil
}

// start resumes a STOPPED Environment: restart containers locally, or ask
// the cloud provider hooks to start existing resources.
func (o *Orchestrator) start(environmentID string) error {
	ctx := context.Background()
	env, err := o.store.GetEnvironment(environmentID)
	if err != nil {
		return err
	}

	if env.Infra == types.InfrastructureLocal {
		if err := o.driver.StartGroup(ctx, environmentID); err != nil {
			return err
		}
	} else {
		hooks, err := o.hooks.Get(env.Infra)
		if err != nil {
			return err
		}
		if err := hooks.StartResources(ctx, env); err != nil {
			return err
		}
	}

	_, err = o.transition(environmentID, types.StatusRunning, "", nil)
	return err
}

// stop suspends a RUNNING Environment: stop containers locally, or ask the
// cloud provider hooks to suspend resources.
func (o *Orchestrator) stop(environmentID string) error {
	ctx := context.Background()
	env, err := o.store.GetEnvironment(environmentID)
	if err != nil {
		return err
	}

	if env.Infra == types.InfrastructureLocal {
		if err := o.driver.StopGroup(ctx, environmentID); err != nil {
			return err
		}
	} else {
		hooks, err := o.hooks.Get(env.Infra)
		if err != nil {
			return err
		}
		if err := hooks.StopResources(ctx, env); err != nil {
			return err
		}
	}

	_, err = o.transition(environmentID, types.StatusStopped, "", nil)
	return err
}

// delete tears an Environment down unconditionally: DELETING is legal from
// any non-terminal state. Once resources are released the machine always
// reaches DESTROYED, even if the caller's context is later canceled.
func (o *Orchestrator) delete(environmentID string) {
	unlock := o.locks.Lock(environmentID)
	defer unlock()

	ctx := context.Background()
	env, err := o.transition(environmentID, types.StatusDeleting, "", nil)
	if err != nil {
		log.WithEnvironmentID(environmentID).Warn().Err(err).Msg("delete transition rejected")
		return
	}

	if env.Infra == types.InfrastructureLocal {
		if err := o.driver.DestroyGroup(ctx, environmentID); err != nil {
			o.fail(environmentID, err)
			return
		}
	} else {
		if hooks, err := o.hooks.Get(env.Infra); err == nil {
			if err := hooks.PreDestroy(ctx, env); err != nil {
				o.fail(environmentID, err)
				return
			}
		}
		if err := o.iaas.Destroy(ctx, env); err != nil {
			o.fail(environmentID, err)
			return
		}
		if hooks, err := o.hooks.Get(env.Infra); err == nil {
			if err := hooks.PostDestroy(ctx, env); err != nil {
				log.WithEnvironmentID(env.ID).Warn().Err(err).Msg("post-destroy hook failed; resources already destroyed")
			}
		}
	}

	o.guard.Release(env.CommittedMemoryMiB)
	if env.Infra == types.InfrastructureLocal && len(env.Ports) > 0 {
		if err := o.ports.Release(environmentID); err != nil {
			log.WithEnvironmentID(environmentID).Warn().Err(err).Msg("port release failed")
		}
	}

	if _, err := o.transition(environmentID, types.StatusDestroyed, "", func(e *types.Environment) {
		e.ArchiveID = ""
		e.Resources = map[string]string{}
		e.Ports = map[int]int{}
		e.CommittedMemoryMiB = 0
	}); err != nil {
		log.WithEnvironmentID(environmentID).Error().Err(err).Msg("failed to record destroyed state")
	}
}
