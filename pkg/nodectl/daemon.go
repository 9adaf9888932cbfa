// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nodectl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"strings"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/tombee/nodectl/internal/lifecycle"
	"github.com/tombee/nodectl/internal/log"
	"github.com/tombee/nodectl/internal/metrics"
	"github.com/tombee/nodectl/internal/repo"
	"github.com/tombee/nodectl/internal/repoconfig"
	"github.com/tombee/nodectl/internal/tracing"
	nodeerrors "github.com/tombee/nodectl/pkg/errors"
)

var (
	errNotReady  = errors.New("daemon exited before it was ready")
	errNoAPIAddr = errors.New("node reported ready without an API address")
)

// process is a launched daemon. err is only valid once exited is closed.
type process struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
	stdout *readinessScanner
	stderr *lineLogger
}

func (p *process) pid() int { return p.cmd.Process.Pid }

// daemonController runs go and js nodes as child processes.
type daemonController struct {
	base

	proc     *process
	attached bool
}

func newDaemon(opts Options) (*daemonController, error) {
	if opts.Exec == "" {
		return nil, &nodeerrors.ValidationError{
			Field:      "exec",
			Message:    fmt.Sprintf("no daemon binary for %s nodes", opts.Type),
			Suggestion: fmt.Sprintf("set Options.Exec or %s/%s", ExecGoEnv, ExecJSEnv),
		}
	}
	d := &daemonController{base: newBase(opts)}
	d.logger = log.WithComponent(d.logger, "daemon")
	return d, nil
}

func (d *daemonController) spawner() *lifecycle.Spawner {
	env := maps.Clone(d.opts.Env)
	if env == nil {
		env = map[string]string{}
	}
	env[repo.PathEnv] = d.path
	return lifecycle.NewSpawner().WithExtraEnv(env)
}

// run executes a short-lived subcommand against the repo.
func (d *daemonController) run(ctx context.Context, stdin io.Reader, args ...string) (string, string, error) {
	cmd := d.spawner().CommandContext(ctx, d.opts.Exec, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func (d *daemonController) Init(ctx context.Context, opts *InitOptions) (err error) {
	ctx, span := d.span(ctx, "nodectl.init")
	defer func() { tracing.End(span, err) }()

	if repo.Exists(d.path) {
		d.update(func(s *State) {
			s.Initialized = true
			s.Clean = false
		})
		d.logger.Debug("repo already initialized")
		return nil
	}
	if opts == nil {
		opts = d.opts.Init
	}

	stdout, stderr, err := d.run(ctx, nil, repoconfig.InitArgs(opts.flags())...)
	if err != nil {
		if _, statErr := os.Stat(d.path); statErr == nil {
			d.update(func(s *State) { s.Clean = false })
		}
		err = &nodeerrors.InitError{Repo: d.path, Stdout: stdout, Stderr: stderr, Cause: err}
		_ = d.events.RecordFailure(lifecycle.EventInit, string(d.typ), d.path, err)
		return err
	}
	d.update(func(s *State) { s.Clean = false })

	if doc := d.opts.configOverrides(); doc != nil {
		if err := d.applyConfig(ctx, doc); err != nil {
			return err
		}
	}

	d.update(func(s *State) { s.Initialized = true })
	_ = d.events.Record(lifecycle.EventInit, string(d.typ), d.path, 0, "repo initialized")
	d.logger.Info("repo initialized")
	return nil
}

// applyConfig merges doc into the repo config through the config
// subcommands.
func (d *daemonController) applyConfig(ctx context.Context, doc repoconfig.Document) error {
	stdout, stderr, err := d.run(ctx, nil, "config", "show")
	if err != nil {
		return &nodeerrors.InitError{Repo: d.path, Stdout: stdout, Stderr: stderr, Cause: fmt.Errorf("config show: %w", err)}
	}
	current, err := repoconfig.Parse([]byte(stdout))
	if err != nil {
		return &nodeerrors.InitError{Repo: d.path, Cause: err}
	}

	data, err := json.Marshal(repoconfig.Merge(current, doc))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	stdout, stderr, err = d.run(ctx, bytes.NewReader(data), "config", "replace", "-")
	if err != nil {
		return &nodeerrors.InitError{Repo: d.path, Stdout: stdout, Stderr: stderr, Cause: fmt.Errorf("config replace: %w", err)}
	}
	return nil
}

func (d *daemonController) Start(ctx context.Context, opts *StartOptions) (err error) {
	if d.started() {
		return nil
	}
	ctx, span := d.span(ctx, "nodectl.start")
	defer func() { tracing.End(span, err) }()
	began := time.Now()

	if addr, ok := repo.CheckRunning(ctx, d.path, repo.DefaultProbeTimeout); ok {
		return d.attach(ctx, addr, began)
	}
	if err := repo.RemoveAPIFile(d.path); err != nil {
		d.logger.Warn("failed to remove stale api file", log.Error(err))
	}

	if opts == nil {
		opts = d.opts.Start
	}
	cmd := d.spawner().Command(d.opts.Exec, repoconfig.DaemonArgs(opts.flags())...)
	p := &process{
		cmd:    cmd,
		exited: make(chan struct{}),
		stderr: newLineLogger(d.logger, "stderr"),
	}
	p.stdout = newReadinessScanner(newLineLogger(d.logger, "stdout"))
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		err = &nodeerrors.StartError{Repo: d.path, Cause: err}
		d.recordStartFailure(err)
		return err
	}
	go func() {
		p.err = cmd.Wait()
		close(p.exited)
	}()
	_ = d.events.Record(lifecycle.EventSpawn, string(d.typ), d.path, p.pid(), strings.Join(cmd.Args, " "))
	d.logger.Debug("daemon spawned", slog.Int("pid", p.pid()))

	select {
	case <-p.stdout.Ready():
	case <-p.exited:
		cause := p.err
		if cause == nil {
			cause = errNotReady
		}
		return d.failStart(p, cause)
	case <-ctx.Done():
		return d.failStart(p, ctx.Err())
	}

	if err := d.adopt(p.stdout.Addrs()); err != nil {
		return d.failStart(p, err)
	}

	d.mu.Lock()
	d.proc = p
	d.mu.Unlock()
	d.markStarted(ctx)
	d.recordStart("started", p.pid(), began)
	d.logger.Info("daemon started",
		slog.Int("pid", p.pid()),
		slog.String("api", d.State().APIAddr),
		log.Duration("duration_ms", time.Since(began).Milliseconds()))
	return nil
}

// adopt builds the API handle from the announced addresses.
func (d *daemonController) adopt(addrs announced) error {
	if addrs.API == "" {
		return errNoAPIAddr
	}
	apiAddr, err := ma.NewMultiaddr(addrs.API)
	if err != nil {
		return fmt.Errorf("invalid API address %q: %w", addrs.API, err)
	}
	if err := d.setAPIAddr(apiAddr); err != nil {
		return err
	}
	if addrs.Gateway != "" {
		if addr, err := ma.NewMultiaddr(addrs.Gateway); err == nil {
			d.attachGateway(addr)
		} else {
			d.logger.Warn("ignoring invalid gateway address", slog.String("addr", addrs.Gateway))
		}
	}
	if addrs.GRPC != "" {
		if addr, err := ma.NewMultiaddr(addrs.GRPC); err == nil {
			d.attachGRPC(addr)
		} else {
			d.logger.Warn("ignoring invalid grpc address", slog.String("addr", addrs.GRPC))
		}
	}
	return nil
}

// failStart kills a half-started daemon and reports what it printed.
func (d *daemonController) failStart(p *process, cause error) error {
	_, _ = lifecycle.StopProcess(p.pid(), p.exited, lifecycle.ShutdownPolicy{Immediate: true})
	_ = repo.RemoveAPIFile(d.path)
	d.markStopped()

	err := &nodeerrors.StartError{
		Repo:   d.path,
		Stdout: p.stdout.String(),
		Stderr: p.stderr.String(),
		Cause:  cause,
	}
	d.recordStartFailure(err)
	return err
}

func (d *daemonController) attach(ctx context.Context, addr ma.Multiaddr, began time.Time) error {
	if err := d.setAPIAddr(addr); err != nil {
		err = &nodeerrors.StartError{Repo: d.path, Cause: err}
		d.recordStartFailure(err)
		return err
	}
	d.mu.Lock()
	d.attached = true
	d.mu.Unlock()
	d.markStarted(ctx)
	d.recordStart("attached", 0, began)
	d.logger.Info("attached to running node", slog.String("api", addr.String()))
	return nil
}

func (d *daemonController) Stop(ctx context.Context) (err error) {
	if !d.started() {
		return nil
	}
	ctx, span := d.span(ctx, "nodectl.stop")
	defer func() { tracing.End(span, err) }()

	d.mu.Lock()
	p, attached := d.proc, d.attached
	d.mu.Unlock()

	var mode string
	pid := 0
	if attached {
		mode = "api"
		if err := d.stopAttached(ctx); err != nil {
			return err
		}
	} else {
		pid = p.pid()
		policy := lifecycle.ShutdownPolicy{
			Immediate: d.disposable,
			ForceKill: d.opts.forceKill(),
			Timeout:   d.opts.ForceKillTimeout,
		}
		res, err := lifecycle.StopProcess(pid, p.exited, policy)
		if err != nil {
			if !res.Forced && errors.Is(err, lifecycle.ErrShutdownTimeout) {
				return &nodeerrors.StopTimeoutError{PID: pid, Timeout: policy.Timeout}
			}
			return fmt.Errorf("stop daemon: %w", err)
		}

		switch {
		case policy.Immediate:
			mode = "immediate"
		case res.Forced:
			mode = "forced"
			timeoutErr := &nodeerrors.StopTimeoutError{PID: pid, Timeout: policy.Timeout}
			d.logger.Warn("daemon ignored SIGTERM, killed",
				slog.Int("pid", pid),
				log.Duration("elapsed_ms", res.Elapsed.Milliseconds()),
				log.Error(timeoutErr))
			_ = d.events.RecordDuration(lifecycle.EventForcedKill, string(d.typ), d.path, pid, res.Elapsed)
		default:
			mode = "graceful"
		}
		if err := repo.RemoveAPIFile(d.path); err != nil {
			d.logger.Warn("failed to remove api file", log.Error(err))
		}
	}

	d.markStopped()
	d.mu.Lock()
	d.proc = nil
	d.attached = false
	d.mu.Unlock()

	metrics.RecordStop(string(d.typ), mode)
	_ = d.events.Record(lifecycle.EventStop, string(d.typ), d.path, pid, mode)
	d.logger.Info("daemon stopped", slog.String("mode", mode))

	if d.disposable {
		if err := d.cleanup(ctx); err != nil {
			d.logger.Debug("cleanup after stop failed", log.Error(err))
		}
	}
	return nil
}

// stopAttached asks a node this controller did not launch to shut down
// and waits until its API stops answering.
func (d *daemonController) stopAttached(ctx context.Context) error {
	api, err := d.API()
	if err != nil {
		return err
	}
	if err := api.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown attached node: %w", err)
	}

	timeout := d.opts.ForceKillTimeout
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, running := repo.CheckRunning(ctx, d.path, 250*time.Millisecond); !running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return &nodeerrors.TimeoutError{Operation: "shutdown attached node", Duration: timeout}
}

func (d *daemonController) Cleanup(ctx context.Context) error {
	return d.cleanup(ctx)
}

func (d *daemonController) PID(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attached {
		return 0, &nodeerrors.NotSupportedError{Operation: "pid", Backend: "attached"}
	}
	if d.proc == nil {
		return 0, &nodeerrors.NotStartedError{What: "pid"}
	}
	return d.proc.pid(), nil
}

// Process returns the OS process of a launched daemon, or nil.
func (d *daemonController) Process() *os.Process {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc == nil {
		return nil
	}
	return d.proc.cmd.Process
}

func (d *daemonController) Version(ctx context.Context) (string, error) {
	stdout, stderr, err := d.run(ctx, nil, "version")
	if err != nil {
		return "", fmt.Errorf("%s version: %w: %s", d.opts.Exec, err, strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}
