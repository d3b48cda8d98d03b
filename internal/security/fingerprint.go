package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// HardwareIDProvider yields the identifier of the current machine
type HardwareIDProvider interface {
	HardwareID() string
}

// StaticHardwareID is a fixed identifier
type StaticHardwareID string

// HardwareID implements HardwareIDProvider
func (s StaticHardwareID) HardwareID() string {
	return string(s)
}

const (
	placeholderMachineUUID = "unknown-machine"
	placeholderMAC         = "00:00:00:00:00:00"
	commandTimeout         = 5 * time.Second
)

// MachineIdentity derives a stable machine id from the platform machine
// UUID, the MAC of the lowest-named physical interface, GOOS and GOARCH.
// The value is computed once and memoized for the process lifetime.
type MachineIdentity struct {
	machineUUID func() (string, error)
	mac         func() (string, error)
	logger      *slog.Logger

	once sync.Once
	id   string
}

// NewMachineIdentity creates a MachineIdentity reading real host factors
func NewMachineIdentity(logger *slog.Logger) *MachineIdentity {
	if logger == nil {
		logger = slog.Default()
	}
	return &MachineIdentity{
		machineUUID: readMachineUUID,
		mac:         primaryMAC,
		logger:      logger,
	}
}

// HardwareID returns 16 lowercase hex characters
func (m *MachineIdentity) HardwareID() string {
	m.once.Do(func() {
		m.id = m.compute()
	})
	return m.id
}

func (m *MachineIdentity) compute() string {
	machineUUID, err := m.machineUUID()
	if err != nil || machineUUID == "" {
		m.logger.Warn("Machine UUID unavailable, using placeholder", slog.Any("error", err))
		machineUUID = placeholderMachineUUID
	}

	mac, err := m.mac()
	if err != nil || mac == "" {
		m.logger.Warn("MAC address unavailable, using placeholder", slog.Any("error", err))
		mac = placeholderMAC
	}

	id := deriveHardwareID(machineUUID, mac, runtime.GOOS, runtime.GOARCH)
	m.logger.Debug("Hardware id resolved", slog.String("hardware_id", id))
	return id
}

func deriveHardwareID(factors ...string) string {
	for i, f := range factors {
		factors[i] = strings.ToLower(strings.TrimSpace(f))
	}
	sum := sha256.Sum256([]byte(strings.Join(factors, "|")))
	return hex.EncodeToString(sum[:8])
}

// primaryMAC returns the MAC of the lowest-named up, non-loopback interface
// that has a hardware address.
func primaryMAC() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}
	return pickMAC(interfaces)
}

func pickMAC(interfaces []net.Interface) (string, error) {
	sort.Slice(interfaces, func(i, j int) bool { return interfaces[i].Name < interfaces[j].Name })

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		if isVirtualInterface(iface.Name) {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac != placeholderMAC {
			return mac, nil
		}
	}
	return "", errors.New("no physical interface with a MAC address")
}

// isVirtualInterface filters common bridge, tunnel and container interfaces
// whose addresses change between boots.
func isVirtualInterface(name string) bool {
	for _, prefix := range []string{"docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "tun", "tap", "utun", "awdl", "llw", "bridge"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func readMachineUUID() (string, error) {
	switch runtime.GOOS {
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
			if data, err := os.ReadFile(path); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return id, nil
				}
			}
		}
		return "", errors.New("machine-id not found")
	case "darwin":
		out, err := runCommand("ioreg", "-rd1", "-c", "IOPlatformExpertDevice")
		if err != nil {
			return "", err
		}
		return parseKeyValue(out, "IOPlatformUUID")
	case "windows":
		out, err := runCommand("reg", "query", `HKLM\SOFTWARE\Microsoft\Cryptography`, "/v", "MachineGuid")
		if err != nil {
			return "", err
		}
		return parseRegValue(out, "MachineGuid")
	default:
		return "", fmt.Errorf("machine uuid unsupported on %s", runtime.GOOS)
	}
}

func runCommand(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", name, err)
	}
	return string(out), nil
}

// parseKeyValue extracts the quoted value of `"key" = "value"` lines
func parseKeyValue(out, key string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, `"`+key+`"`) {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if v := strings.Trim(strings.TrimSpace(value), `"`); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%s not found", key)
}

// parseRegValue extracts the data column of a `reg query` line
func parseRegValue(out, key string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == key {
			return fields[len(fields)-1], nil
		}
	}
	return "", fmt.Errorf("%s not found", key)
}
