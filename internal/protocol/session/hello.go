package session

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/danmuck/tether/internal/protocol/wire"
)

var (
	ErrInvalidHello    = errors.New("session: invalid hello")
	ErrUnknownPlatform = errors.New("session: unknown platform")
)

// Platform is the agent's declared operating system family.
type Platform int64

const (
	PlatformLinux   Platform = 0
	PlatformDarwin  Platform = 1
	PlatformWindows Platform = 2
	PlatformOther   Platform = 3
)

var platformNames = map[Platform]string{
	PlatformLinux:   "linux",
	PlatformDarwin:  "darwin",
	PlatformWindows: "windows",
	PlatformOther:   "other",
}

func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return fmt.Sprintf("platform(%d)", int64(p))
}

func (p Platform) Valid() bool {
	_, ok := platformNames[p]
	return ok
}

func ParsePlatform(raw string) (Platform, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "mac" || key == "macos" {
		key = "darwin"
	}
	for p, name := range platformNames {
		if name == key {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPlatform, raw)
}

// CurrentPlatform reports the platform of the running binary.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformDarwin
	case "windows":
		return PlatformWindows
	default:
		return PlatformOther
	}
}

// Hello is the agent->controller identity sent right after the handshake:
// BOOLEAN(has_name) [STRING(name)] INTEGER(platform).
type Hello struct {
	Name     string
	Platform Platform
}

func (h Hello) Validate(maxNameLen int) error {
	if !h.Platform.Valid() {
		return fmt.Errorf("%w: %v", ErrUnknownPlatform, h.Platform)
	}
	if maxNameLen > 0 && len(h.Name) > maxNameLen {
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidHello, maxNameLen)
	}
	if strings.ContainsAny(h.Name, " \t\r\n") {
		return fmt.Errorf("%w: name contains whitespace", ErrInvalidHello)
	}
	return nil
}

func WriteHello(w io.Writer, h Hello) error {
	name := strings.TrimSpace(h.Name)
	if err := wire.SendBoolean(w, name != ""); err != nil {
		return err
	}
	if name != "" {
		if err := wire.SendString(w, name); err != nil {
			return err
		}
	}
	return wire.SendInteger(w, int64(h.Platform))
}

func ReadHello(r io.Reader, maxNameLen int) (Hello, error) {
	hasName, err := wire.ReceiveBoolean(r)
	if err != nil {
		return Hello{}, err
	}
	var h Hello
	if hasName {
		if h.Name, err = wire.ReceiveString(r); err != nil {
			return Hello{}, err
		}
	}
	code, err := wire.ReceiveInteger(r)
	if err != nil {
		return Hello{}, err
	}
	h.Platform = Platform(code)
	if err := h.Validate(maxNameLen); err != nil {
		return Hello{}, err
	}
	return h, nil
}
