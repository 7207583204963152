package worker

import (
	"bytes"
	"strings"
	"testing"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/controller"
	"github.com/danmuck/tether/internal/testutil/testlog"
)

func TestMainRejectsMalformedJob(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	code := Main(command.NewBuilder().Build(), strings.NewReader("not cbor"), &out)
	if code != ExitBadJob {
		t.Fatalf("expected exit %d, got %d", ExitBadJob, code)
	}
	if !strings.Contains(out.String(), "invalid worker job") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestMainRejectsIncompleteJob(t *testing.T) {
	testlog.Start(t)
	raw, err := controller.EncodeWorkerJob(controller.WorkerJob{Endpoint: "alpha"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out bytes.Buffer
	if code := Main(command.NewBuilder().Build(), bytes.NewReader(raw), &out); code != ExitBadJob {
		t.Fatalf("expected exit %d, got %d", ExitBadJob, code)
	}
}
