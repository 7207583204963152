// Package worker runs one endpoint's share of a fan-out inside a re-executed
// controller process.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/controller"
	"github.com/danmuck/tether/internal/logging"
	"github.com/rs/zerolog/log"
)

const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitBadJob  = 2
	sessionName = "tether-session"
)

// Main reads a job from stdin, resumes the session passed on fd 3 and runs
// the command. The outcome goes to the shared result cell named in the job;
// stdout carries the command's output.
func Main(reg *command.Registry, stdin io.Reader, stdout io.Writer) int {
	logging.ConfigureWorker()

	job, err := controller.ReadWorkerJob(stdin)
	if err != nil {
		fmt.Fprintf(stdout, "worker: %v\n", err)
		return ExitBadJob
	}
	f := os.NewFile(controller.WorkerSessionFD, sessionName)
	if f == nil {
		fmt.Fprintf(stdout, "worker: session descriptor %d missing\n", controller.WorkerSessionFD)
		return ExitBadJob
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Debug().Str("job", job.ID).Str("endpoint", job.Endpoint).Str("command", job.Command).Msg("worker.Main start")
	if err := controller.RunWorkerJob(ctx, reg, job, f, stdout); err != nil {
		log.Warn().Str("job", job.ID).Err(err).Msg("worker.Main job failed")
		return ExitFailed
	}
	return ExitOK
}
