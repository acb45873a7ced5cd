// Package remote provides the SSH-or-local command execution shared by
// the lsf and ge DRM back-ends (spec §4.5): a cluster's submit/poll/kill
// commands run on a configured submit host over SSH when one is set, and
// fall back to executing the scheduler binary on the local host
// otherwise — the common case for a cosmos daemon running directly on an
// LSF/GE submit node.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"golang.org/x/crypto/ssh"
)

var _ CommandRunner = (*Runner)(nil)

// Config describes how to reach a DRM's submit host.
type Config struct {
	// SubmitHost, when set, is dialed over SSH for every command
	// ("host:22" or "host", default port 22).
	SubmitHost string
	User       string
	// AuthMethods is left to the caller to build (key-based auth is the
	// norm for cluster submit hosts); an empty list is only valid when
	// SubmitHost is also empty.
	AuthMethods []ssh.AuthMethod
	HostKeyCallback ssh.HostKeyCallback
}

// CommandRunner executes a scheduler command and returns its combined
// output. It is the seam DRM back-ends depend on instead of *Runner
// directly, so tests can substitute a fake scheduler.
type CommandRunner interface {
	Run(ctx context.Context, command string, stdin string) (string, error)
}

// Runner executes scheduler commands (bsub, bjobs, bkill, qsub, ...)
// either over SSH against a configured submit host or as a local
// subprocess.
type Runner struct {
	cfg    Config
	client *ssh.Client
}

// NewRunner constructs a Runner. The SSH connection, if configured, is
// dialed lazily on first use so a misconfigured submit host doesn't fail
// engine startup before any task actually needs the DRM.
func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

func (r *Runner) dial() (*ssh.Client, error) {
	if r.client != nil {
		return r.client, nil
	}
	addr := r.cfg.SubmitHost
	if addr == "" {
		return nil, fmt.Errorf("remote: no submit host configured")
	}
	client, err := ssh.Dial("tcp", withDefaultPort(addr), &ssh.ClientConfig{
		User:            r.cfg.User,
		Auth:            r.cfg.AuthMethods,
		HostKeyCallback: r.cfg.HostKeyCallback,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
	}
	r.client = client
	return client, nil
}

func withDefaultPort(addr string) string {
	for _, c := range addr {
		if c == ':' {
			return addr
		}
	}
	return addr + ":22"
}

// Run executes command, feeding stdin (may be empty) and returning
// combined stdout.
func (r *Runner) Run(ctx context.Context, command string, stdin string) (string, error) {
	if r.cfg.SubmitHost != "" {
		return r.runRemote(command, stdin)
	}
	return r.runLocal(ctx, command, stdin)
}

func (r *Runner) runLocal(ctx context.Context, command string, stdin string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = bytes.NewBufferString(stdin)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func (r *Runner) runRemote(command string, stdin string) (string, error) {
	client, err := r.dial()
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("remote: new ssh session: %w", err)
	}
	defer session.Close()

	session.Stdin = bytes.NewBufferString(stdin)
	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out
	if err := session.Run(command); err != nil {
		return out.String(), fmt.Errorf("remote: run %q: %w", command, err)
	}
	return out.String(), nil
}

// Close releases the SSH connection, if one was opened.
func (r *Runner) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
