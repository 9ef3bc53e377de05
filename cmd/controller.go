package cmd

import (
	"context"
	"syscall"
	"time"

	"firestige.xyz/pcapminer/internal/daemon"
)

// Controller is what the coordinator control commands need from a
// running coordinator.
type Controller interface {
	Stop(ctx context.Context) error
	Reload(ctx context.Context) error
}

// pidController reaches the coordinator through its PID file.
type pidController struct {
	pidFile string
	timeout time.Duration
}

func (c pidController) Stop(ctx context.Context) error {
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	return daemon.StopRunning(c.pidFile, timeout)
}

func (c pidController) Reload(context.Context) error {
	return daemon.Signal(c.pidFile, syscall.SIGHUP)
}

var newController = func(pidFile string, timeout time.Duration) Controller {
	return pidController{pidFile: pidFile, timeout: timeout}
}
