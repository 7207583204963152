package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/wire"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
)

// MaxTransferSize bounds the decompressed size of one file transfer.
const MaxTransferSize = 512 << 20

var ErrTransferTooLarge = errors.New("commands: transfer exceeds size limit")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("commands: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxTransferSize), zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("commands: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(raw []byte) []byte {
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decompress(blob []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, err
	}
	if len(out) > MaxTransferSize {
		return nil, ErrTransferTooLarge
	}
	return out, nil
}

func readForTransfer(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxTransferSize {
		return nil, fmt.Errorf("%w: %s is %s", ErrTransferTooLarge, path, humanize.IBytes(uint64(info.Size())))
	}
	return os.ReadFile(path)
}

func writeTransferred(path string, blob []byte) (int, error) {
	raw, err := decompress(blob)
	if err != nil {
		return 0, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}
	return len(raw), os.WriteFile(path, raw, 0o644)
}

// UploadFile copies a controller file to the agent.
//
// Framing: BOOLEAN(proceed) then STRING(remote) BYTES(zstd blob) on the bulk
// handle, answered by a status.
type UploadFile struct{}

// AgentSide writes the decompressed blob to the remote path.
func (UploadFile) AgentSide(ctx context.Context, s *command.AgentSession) error {
	proceed, err := wire.ReceiveBoolean(s.Channel)
	if err != nil || !proceed {
		return err
	}
	bulk := s.Bulk()
	defer bulk.Close()
	remote, err := wire.ReceiveString(bulk)
	if err != nil {
		return err
	}
	blob, err := wire.ReceiveBytesLimit(bulk, MaxTransferSize)
	if err != nil {
		return err
	}
	n, writeErr := writeTransferred(remote, blob)
	return sendStatus(s.Channel, writeErr, fmt.Sprintf("Wrote %s to %s", humanize.IBytes(uint64(n)), remote))
}

// ControllerSide reads and compresses the local file before it touches the wire.
func (UploadFile) ControllerSide(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
	local, remote := params[0].Str, params[1].Str
	raw, readErr := readForTransfer(local)
	if err := wire.SendBoolean(s.Channel, readErr == nil); err != nil {
		return transportFailure(s.Out, "send upload header", err)
	}
	if readErr != nil {
		fmt.Fprintf(s.Out, "Could not read '%s': %v\n", local, readErr)
		return command.Outcome{Status: command.StatusParamError}
	}
	blob := compress(raw)
	bulk := s.Bulk()
	defer bulk.Close()
	if err := wire.SendString(bulk, remote); err != nil {
		return transportFailure(s.Out, "send remote path", err)
	}
	if err := wire.SendBytes(bulk, blob); err != nil {
		return transportFailure(s.Out, "send file", err)
	}
	ok, detail, err := receiveStatus(s.Channel)
	if err != nil {
		return transportFailure(s.Out, "receive status", err)
	}
	if !ok {
		fmt.Fprintf(s.Out, "Agent could not write '%s': %s\n", remote, detail)
		return command.Failed()
	}
	fmt.Fprintf(s.Out, "%s (%s on the wire)\n", detail, humanize.IBytes(uint64(len(blob))))
	return command.Succeeded(int64(len(raw)))
}

// DownloadFile copies an agent file to the controller.
type DownloadFile struct{}

func (DownloadFile) AgentSide(ctx context.Context, s *command.AgentSession) error {
	remote, err := wire.ReceiveString(s.Channel)
	if err != nil {
		return err
	}
	raw, readErr := readForTransfer(remote)
	if err := sendStatus(s.Channel, readErr, remote); err != nil || readErr != nil {
		return err
	}
	bulk := s.Bulk()
	defer bulk.Close()
	return wire.SendBytes(bulk, compress(raw))
}

// ControllerSide writes the decompressed file to the local path.
func (DownloadFile) ControllerSide(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
	remote, local := params[0].Str, params[1].Str
	if err := wire.SendString(s.Channel, remote); err != nil {
		return transportFailure(s.Out, "send remote path", err)
	}
	ok, detail, err := receiveStatus(s.Channel)
	if err != nil {
		return transportFailure(s.Out, "receive status", err)
	}
	if !ok {
		fmt.Fprintf(s.Out, "Agent could not read '%s': %s\n", remote, detail)
		return command.Failed()
	}
	bulk := s.Bulk()
	defer bulk.Close()
	blob, err := wire.ReceiveBytesLimit(bulk, MaxTransferSize)
	if err != nil {
		return transportFailure(s.Out, "receive file", err)
	}
	n, err := writeTransferred(local, blob)
	if err != nil {
		fmt.Fprintf(s.Out, "Could not write '%s': %v\n", local, err)
		return command.Failed()
	}
	fmt.Fprintf(s.Out, "Saved %s to %s (%s on the wire)\n", humanize.IBytes(uint64(n)), local, humanize.IBytes(uint64(len(blob))))
	return command.Succeeded(int64(n))
}
