// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package host

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/proxy"
	"github.com/juju/retry"
)

// This is the default apt-get command used in cloud-init, the various settings
// mean that apt won't actually block waiting for a prompt from the user.
var aptGetCommand = []string{
	"apt-get", "--option=Dpkg::Options::=--force-confold",
	"--option=Dpkg::options::=--force-unsafe-io", "--assume-yes", "--quiet",
}

// aptGetEnvOptions are options we need to pass to apt-get to not have it prompt
// the user
var aptGetEnvOptions = []string{"DEBIAN_FRONTEND=noninteractive"}

// aptExitCode is the exit code apt-get uses for every failure, a held
// dpkg lock included.
const aptExitCode = 100

// aptLockMessages are printed by apt-get when another process holds the
// dpkg lock.
var aptLockMessages = [][]byte{
	[]byte("Could not get lock"),
	[]byte("Unable to acquire the dpkg frontend lock"),
	[]byte("Unable to lock the administration directory"),
}

// CommandRunner runs a command with extra environment variables and
// returns its combined output.
type CommandRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

// RunCommand is the default CommandRunner.
func RunCommand(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Apt installs packages with apt-get.
type Apt struct {
	Run   CommandRunner
	Clock clock.Clock

	// Proxy is exported to apt-get, which runs behind the model's proxy.
	Proxy proxy.Settings

	// Attempts and Delay control retries while apt-get fails because
	// the dpkg lock is held.
	Attempts int
	Delay    time.Duration
}

// NewApt returns an Apt running real commands through the given proxy.
func NewApt(proxySettings proxy.Settings) *Apt {
	return &Apt{
		Run:      RunCommand,
		Clock:    clock.WallClock,
		Proxy:    proxySettings,
		Attempts: 30,
		Delay:    10 * time.Second,
	}
}

// isLocked reports whether apt-get failed because the dpkg lock is held.
func isLocked(err error, out []byte) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != aptExitCode {
		return false
	}
	for _, msg := range aptLockMessages {
		if bytes.Contains(out, msg) {
			return true
		}
	}
	return false
}

// Install runs 'apt-get install packages' for the packages listed here.
func (a *Apt) Install(ctx context.Context, packages ...string) error {
	if len(packages) == 0 {
		return nil
	}
	cmdArgs := append([]string(nil), aptGetCommand...)
	cmdArgs = append(cmdArgs, "install")
	cmdArgs = append(cmdArgs, packages...)
	logger.Infof("Running: %s", cmdArgs)

	env := append([]string(nil), aptGetEnvOptions...)
	env = append(env, a.Proxy.AsEnvironmentValues()...)
	var out []byte
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			out, err = a.Run(ctx, env, cmdArgs[0], cmdArgs[1:]...)
			return err
		},
		IsFatalError: func(err error) bool {
			return !isLocked(err, out)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Infof("apt-get install attempt %d failed, retrying: %v", attempt, err)
		},
		Attempts: a.Attempts,
		Delay:    a.Delay,
		Clock:    a.Clock,
		Stop:     ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) {
		err = retry.LastError(err)
	}
	if err != nil {
		logger.Errorf("apt-get output: %s", bytes.TrimSpace(out))
	}
	return errors.Annotatef(err, "installing %v", packages)
}
