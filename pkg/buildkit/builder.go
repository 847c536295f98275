package buildkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/containerd/platforms"
	"github.com/docker/cli/cli/config"
	"github.com/docker/cli/cli/config/configfile"
	"github.com/moby/buildkit/client"
	"github.com/moby/buildkit/exporter/containerimage/exptypes"
	"github.com/moby/buildkit/session"
	"github.com/moby/buildkit/session/auth/authprovider"
	"github.com/moby/buildkit/session/secrets/secretsprovider"
	"github.com/moby/buildkit/util/progress/progresswriter"
)

// BuildDockerfile executes a BuildKit solve using the dockerfile frontend and
// exports the result as an OCI layout directory.
func BuildDockerfile(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	if opts.ContextDir == "" {
		opts.ContextDir = "."
	}
	if opts.OCIOutputPath == "" {
		return nil, errors.New("an OCI output path is required")
	}

	absContext, err := filepath.Abs(opts.ContextDir)
	if err != nil {
		return nil, fmt.Errorf("resolve context: %w", err)
	}
	if err := ensureDirExists(absContext); err != nil {
		return nil, fmt.Errorf("context %s: %w", absContext, err)
	}

	dockerfilePath := opts.DockerfilePath
	if dockerfilePath == "" {
		dockerfilePath = filepath.Join(absContext, "Dockerfile")
	}
	if !filepath.IsAbs(dockerfilePath) {
		dockerfilePath, err = filepath.Abs(dockerfilePath)
		if err != nil {
			return nil, fmt.Errorf("resolve dockerfile: %w", err)
		}
	}
	dockerfileDir, dockerfileName, err := splitDockerfile(dockerfilePath)
	if err != nil {
		return nil, err
	}

	if len(opts.Platforms) > 0 {
		opts.Platforms, err = NormalizePlatforms(opts.Platforms)
		if err != nil {
			return nil, err
		}
	}
	if opts.ProgressOutput == nil {
		opts.ProgressOutput = os.Stderr
	}
	if opts.ProgressMode == "" {
		opts.ProgressMode = "auto"
	}

	dockerCfg := opts.DockerConfig
	if dockerCfg == nil {
		dockerCfg = config.LoadDefaultConfigFile(os.Stderr)
	}

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = DefaultCacheDir()
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	builderAddr := opts.BuilderAddr
	if builderAddr == "" {
		builderAddr = DefaultBuilderAddress()
	}
	cf := buildkitClientFactory{
		allowFallback: opts.AllowBuilderFallback,
		logWriter:     opts.ProgressOutput,
	}
	c, _, err := cf.new(clientCtx, builderAddr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if len(opts.Platforms) == 0 {
		if workers, derr := detectBuilderPlatforms(clientCtx, c); derr == nil && len(workers) > 0 {
			if selected := selectDefaultBuilderPlatform(workers, runtime.GOOS, runtime.GOARCH); selected != "" {
				opts.Platforms = []string{selected}
			}
		}
		if len(opts.Platforms) == 0 {
			opts.Platforms = []string{defaultPlatform(runtime.GOOS, runtime.GOARCH)}
		}
	}

	attachable, err := buildSessionAttachables(dockerCfg, opts.Secrets)
	if err != nil {
		return nil, err
	}
	exports, err := ociExport(opts.OCIOutputPath, opts.Tags)
	if err != nil {
		return nil, err
	}
	solveOpt := client.SolveOpt{
		Frontend:      "dockerfile.v0",
		FrontendAttrs: frontendAttrs(dockerfileName, opts),
		LocalDirs: map[string]string{
			"context":    absContext,
			"dockerfile": dockerfileDir,
		},
		Session: attachable,
		Exports: exports,
	}
	solveOpt.CacheExports, solveOpt.CacheImports = cacheEntries(opts, cacheDir)

	pw, err := progresswriter.NewPrinter(context.TODO(), opts.ProgressOutput, opts.ProgressMode)
	if err != nil {
		return nil, fmt.Errorf("create progress UI: %w", err)
	}
	resp, err := c.Solve(clientCtx, nil, solveOpt, pw.Status())
	<-pw.Done()
	if perr := pw.Err(); perr != nil {
		err = errors.Join(err, perr)
	}
	if err != nil {
		return nil, err
	}

	digest := resp.ExporterResponse[exptypes.ExporterImageDigestKey]
	if digest == "" {
		digest = resp.ExporterResponse["oci.digest"]
	}
	return &BuildResult{
		Digest:           digest,
		ExporterResponse: resp.ExporterResponse,
		OCIOutputPath:    opts.OCIOutputPath,
	}, nil
}

func frontendAttrs(dockerfileName string, opts BuildOptions) map[string]string {
	attrs := map[string]string{
		"filename": dockerfileName,
	}
	if len(opts.Platforms) > 0 {
		attrs["platform"] = strings.Join(opts.Platforms, ",")
	}
	if opts.Pull {
		attrs["image-resolve-mode"] = "pull"
	}
	if opts.NoCache {
		attrs["no-cache"] = ""
	}
	keys := make([]string, 0, len(opts.BuildArgs))
	for k := range opts.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs["build-arg:"+k] = opts.BuildArgs[k]
	}
	return attrs
}

func cacheEntries(opts BuildOptions, cacheDir string) (exports, imports []client.CacheOptionsEntry) {
	exports = convertCacheSpecs(opts.CacheExports)
	if opts.NoCache {
		return exports, nil
	}
	imports = append([]client.CacheOptionsEntry{{
		Type:  "local",
		Attrs: map[string]string{"src": cacheDir},
	}}, convertCacheSpecs(opts.CacheImports)...)
	exports = append(exports, client.CacheOptionsEntry{
		Type:  "local",
		Attrs: map[string]string{"dest": cacheDir, "mode": "max"},
	})
	return exports, imports
}

func ociExport(dest string, tags []string) ([]client.ExportEntry, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create oci output dir: %w", err)
	}
	attrs := map[string]string{"tar": "false"}
	if len(tags) > 0 {
		attrs[string(exptypes.OptKeyName)] = strings.Join(tags, ",")
	}
	return []client.ExportEntry{{
		Type:      client.ExporterOCI,
		Attrs:     attrs,
		OutputDir: dest,
	}}, nil
}

func buildSessionAttachables(cfg *configfile.ConfigFile, secrets []Secret) ([]session.Attachable, error) {
	attachable := []session.Attachable{
		authprovider.NewDockerAuthProvider(authprovider.DockerAuthProviderConfig{AuthConfigProvider: authprovider.LoadAuthConfig(cfg)}),
	}
	sources := make([]secretsprovider.Source, 0, len(secrets))
	for _, sec := range secrets {
		if sec.ID == "" {
			continue
		}
		source := secretsprovider.Source{ID: sec.ID}
		if sec.File != "" {
			source.FilePath = sec.File
		} else {
			source.Env = sec.Env
			if source.Env == "" {
				source.Env = sec.ID
			}
		}
		sources = append(sources, source)
	}
	if len(sources) > 0 {
		store, err := secretsprovider.NewStore(sources)
		if err != nil {
			return nil, err
		}
		attachable = append(attachable, secretsprovider.NewSecretProvider(store))
	}
	return attachable, nil
}

func ensureDirExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

func splitDockerfile(path string) (string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", fmt.Errorf("stat dockerfile: %w", err)
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("dockerfile path %s is a directory", path)
	}
	return filepath.Dir(path), filepath.Base(path), nil
}

// NormalizePlatforms parses and normalizes platform specifiers, dropping blanks
// and duplicates while preserving order.
func NormalizePlatforms(specs []string) ([]string, error) {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		p, err := platforms.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("platform %q: %w", spec, err)
		}
		norm := platforms.Format(platforms.Normalize(p))
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out, nil
}

func defaultPlatform(goos, goarch string) string {
	osPart := strings.TrimSpace(strings.ToLower(goos))
	if osPart == "" {
		osPart = strings.TrimSpace(strings.ToLower(runtime.GOOS))
	}
	archPart := strings.TrimSpace(strings.ToLower(goarch))
	if archPart == "" {
		archPart = runtime.GOARCH
	}
	return fmt.Sprintf("%s/%s", osPart, archPart)
}

type workerLister interface {
	ListWorkers(ctx context.Context, opts ...client.ListWorkersOption) ([]*client.WorkerInfo, error)
}

func selectDefaultBuilderPlatform(available []string, goos, goarch string) string {
	if len(available) == 0 {
		return ""
	}
	runtimePlatform := defaultPlatform(goos, goarch)
	for _, p := range available {
		if p == runtimePlatform {
			return p
		}
	}
	return available[0]
}

func detectBuilderPlatforms(ctx context.Context, l workerLister) ([]string, error) {
	workers, err := l.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	return collectWorkerPlatforms(workers), nil
}

func collectWorkerPlatforms(workers []*client.WorkerInfo) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, w := range workers {
		if w == nil {
			continue
		}
		for _, platform := range w.Platforms {
			osPart := strings.TrimSpace(strings.ToLower(platform.OS))
			archPart := strings.TrimSpace(strings.ToLower(platform.Architecture))
			if osPart == "" || archPart == "" {
				continue
			}
			key := fmt.Sprintf("%s/%s", osPart, archPart)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}

func convertCacheSpecs(specs []CacheSpec) []client.CacheOptionsEntry {
	entries := make([]client.CacheOptionsEntry, 0, len(specs))
	for _, spec := range specs {
		if spec.Type == "" {
			continue
		}
		attrs := map[string]string{}
		for k, v := range spec.Attrs {
			attrs[k] = v
		}
		entries = append(entries, client.CacheOptionsEntry{Type: spec.Type, Attrs: attrs})
	}
	return entries
}
