package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/channel"
	"github.com/danmuck/tether/internal/protocol/session"
)

// WorkerSessionFD is the descriptor the exported transport lands on in the
// worker (first entry of ExtraFiles).
const WorkerSessionFD = 3

var ErrWorkerJob = errors.New("controller: invalid worker job")

// WorkerJob is the CBOR document a worker process reads from stdin.
type WorkerJob struct {
	ID          string           `cbor:"1,keyasint"`
	Endpoint    string           `cbor:"2,keyasint"`
	Platform    session.Platform `cbor:"3,keyasint"`
	Command     string           `cbor:"4,keyasint"`
	Params      []command.Token  `cbor:"5,keyasint"`
	Session     channel.Exported `cbor:"6,keyasint"`
	BulkTimeout time.Duration    `cbor:"7,keyasint"`
	ResultPath  string           `cbor:"8,keyasint"`
	ValueCap    int              `cbor:"9,keyasint"`
}

func (j WorkerJob) Validate() error {
	switch {
	case j.Command == "":
		return fmt.Errorf("%w: missing command", ErrWorkerJob)
	case j.ResultPath == "":
		return fmt.Errorf("%w: missing result path", ErrWorkerJob)
	case j.ValueCap <= 0:
		return fmt.Errorf("%w: missing value capacity", ErrWorkerJob)
	}
	return nil
}

func EncodeWorkerJob(j WorkerJob) ([]byte, error) { return marshalCBOR(j) }

func ReadWorkerJob(r io.Reader) (WorkerJob, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return WorkerJob{}, fmt.Errorf("%w: read: %w", ErrWorkerJob, err)
	}
	var j WorkerJob
	if err := unmarshalCBOR(raw, &j); err != nil {
		return WorkerJob{}, fmt.Errorf("%w: decode: %w", ErrWorkerJob, err)
	}
	return j, j.Validate()
}

// RunWorkerJob executes one job inside a worker process: it resumes the
// exported session from f, runs the command and stores the outcome in the
// shared result cell. out receives the command's output.
func RunWorkerJob(ctx context.Context, reg *command.Registry, job WorkerJob, f *os.File, out io.Writer) error {
	cell, err := OpenSharedCell(job.ResultPath, job.ValueCap)
	if err != nil {
		return err
	}
	defer cell.Close()

	desc, ok := reg.Lookup(job.Command)
	if !ok {
		_ = cell.Store(command.Outcome{Status: command.StatusNotFound})
		return fmt.Errorf("%w: unknown command %q", ErrWorkerJob, job.Command)
	}
	ch, err := channel.Import(job.Session, f)
	if err != nil {
		_ = cell.Store(command.Outcome{Status: command.StatusConnError})
		return err
	}
	defer ch.Close()

	cfg := session.DefaultConfig()
	cfg.BulkTimeout = job.BulkTimeout
	e := NewEndpoint(job.Endpoint, job.Platform, ch, cfg)
	outcome := e.ExecuteCommand(ctx, desc, job.Params, out, nil)
	if err := cell.Store(outcome); err != nil {
		if errors.Is(err, ErrCellValueTooLarge) {
			fmt.Fprintf(out, "return value dropped: %v\n", err)
			return nil
		}
		return err
	}
	return nil
}
