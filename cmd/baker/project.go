package main

import (
	"github.com/example/baker/internal/bake"
	"github.com/example/baker/internal/dockerconfig"
	"github.com/example/baker/internal/gitinfo"
	"github.com/example/baker/internal/localimages"
	"github.com/example/baker/internal/settings"
	"github.com/example/baker/pkg/registry"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

// project is a loaded settings file plus the collaborators a planner run needs.
type project struct {
	settings  *settings.Settings
	graph     *bake.Graph
	overrides bake.Overrides
	records   *registry.Store
	log       logr.Logger
}

func openProject(cmd *cobra.Command, global *globalOptions, flags *planFlags) (*project, error) {
	log, err := global.logger(cmd)
	if err != nil {
		return nil, err
	}
	if err := flags.expandPaths(); err != nil {
		return nil, err
	}
	s, err := global.loadSettings()
	if err != nil {
		return nil, err
	}
	graph, err := s.Graph()
	if err != nil {
		return nil, err
	}
	overrides, err := bake.ParseOverrides(flags.sets)
	if err != nil {
		return nil, err
	}
	if err := dockerconfig.ApplyAuthfileEnv(flags.dockerConfig); err != nil {
		return nil, err
	}
	records, err := registry.NewStore(flags.recordsDir)
	if err != nil {
		return nil, err
	}
	log.V(1).Info("loaded settings", "path", s.Path, "targets", len(s.Targets), "bundles", len(s.Bundles))
	return &project{settings: s, graph: graph, overrides: overrides, records: records, log: log}, nil
}

// checker wires the local scope to baker's image records and the Docker
// daemon, and the registry scope to manifest HEAD requests.
func (p *project) checker(flags *planFlags) bake.ExistenceChecker {
	local := &localimages.Checker{Records: p.records, Log: p.log}
	if daemon, err := localimages.NewDockerDaemon(); err != nil {
		p.log.V(1).Info("docker daemon unavailable, local checks use image records only", "error", err.Error())
	} else {
		local.Daemon = daemon
	}
	remote := registry.NewRemoteChecker()
	remote.Insecure = flags.registryInsecure
	return bake.ScopedChecker{Local: local, Registry: remote}
}

func (p *project) dependencies(flags *planFlags, executor bake.Executor) bake.Dependencies {
	return bake.Dependencies{
		Checker:  p.checker(flags),
		Executor: executor,
		Git:      gitinfo.NewSource(p.settings.BaseDir),
		Env:      bake.EnvFromOS(),
		Logger:   p.log,
	}
}
