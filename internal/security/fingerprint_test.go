package security

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var hexID = regexp.MustCompile(`^[0-9a-f]{16}$`)

type FingerprintTestSuite struct {
	suite.Suite
	logger *slog.Logger
}

func (s *FingerprintTestSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *FingerprintTestSuite) identity(uuid, mac string, uuidErr, macErr error) *MachineIdentity {
	return &MachineIdentity{
		machineUUID: func() (string, error) { return uuid, uuidErr },
		mac:         func() (string, error) { return mac, macErr },
		logger:      s.logger,
	}
}

// TestHardwareIDFormat tests the id is 16 lowercase hex characters
func (s *FingerprintTestSuite) TestHardwareIDFormat() {
	id := s.identity("4c4c4544-0042", "aa:bb:cc:dd:ee:ff", nil, nil).HardwareID()
	s.Regexp(hexID, id)
}

// TestHardwareIDDeterministic tests identical factors give identical ids
func (s *FingerprintTestSuite) TestHardwareIDDeterministic() {
	a := s.identity("4c4c4544-0042", "aa:bb:cc:dd:ee:ff", nil, nil).HardwareID()
	b := s.identity("4C4C4544-0042 ", "AA:BB:CC:DD:EE:FF", nil, nil).HardwareID()
	s.Equal(a, b)

	other := s.identity("4c4c4544-0043", "aa:bb:cc:dd:ee:ff", nil, nil).HardwareID()
	s.NotEqual(a, other)
}

// TestHardwareIDPlaceholders tests missing factors still give a stable id
func (s *FingerprintTestSuite) TestHardwareIDPlaceholders() {
	failing := errors.New("unavailable")
	a := s.identity("", "", failing, failing).HardwareID()
	b := s.identity("", "", failing, failing).HardwareID()

	s.Regexp(hexID, a)
	s.Equal(a, b)
}

// TestHardwareIDMemoized tests factors are read only once
func (s *FingerprintTestSuite) TestHardwareIDMemoized() {
	calls := 0
	m := &MachineIdentity{
		machineUUID: func() (string, error) { calls++; return "id", nil },
		mac:         func() (string, error) { return "aa:bb:cc:dd:ee:ff", nil },
		logger:      s.logger,
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.HardwareID()
		}()
	}
	wg.Wait()
	s.Equal(1, calls)
}

func TestFingerprintTestSuite(t *testing.T) {
	suite.Run(t, new(FingerprintTestSuite))
}

func TestPickMAC(t *testing.T) {
	mac := func(s string) net.HardwareAddr {
		hw, err := net.ParseMAC(s)
		require.NoError(t, err)
		return hw
	}

	tests := []struct {
		name       string
		interfaces []net.Interface
		want       string
		wantErr    bool
	}{
		{
			name: "lowest name wins",
			interfaces: []net.Interface{
				{Name: "wlan0", HardwareAddr: mac("22:22:22:22:22:22")},
				{Name: "eth0", HardwareAddr: mac("11:11:11:11:11:11")},
			},
			want: "11:11:11:11:11:11",
		},
		{
			name: "skips loopback and virtual",
			interfaces: []net.Interface{
				{Name: "docker0", HardwareAddr: mac("33:33:33:33:33:33")},
				{Name: "lo", Flags: net.FlagLoopback, HardwareAddr: mac("44:44:44:44:44:44")},
				{Name: "enp3s0", HardwareAddr: mac("55:55:55:55:55:55")},
			},
			want: "55:55:55:55:55:55",
		},
		{
			name:       "none available",
			interfaces: []net.Interface{{Name: "lo", Flags: net.FlagLoopback}},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickMAC(tt.interfaces)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePlatformOutput(t *testing.T) {
	ioreg := `+-o J314sAP  <class IOPlatformExpertDevice>
    {
      "IOPlatformSerialNumber" = "C02XXXX"
      "IOPlatformUUID" = "5B2F6E1C-0000-1111-2222-333344445555"
    }`
	v, err := parseKeyValue(ioreg, "IOPlatformUUID")
	require.NoError(t, err)
	assert.Equal(t, "5B2F6E1C-0000-1111-2222-333344445555", v)

	reg := "\r\nHKEY_LOCAL_MACHINE\\SOFTWARE\\Microsoft\\Cryptography\r\n    MachineGuid    REG_SZ    0d7c1f6a-1234-5678-9abc-def012345678\r\n"
	v, err = parseRegValue(reg, "MachineGuid")
	require.NoError(t, err)
	assert.Equal(t, "0d7c1f6a-1234-5678-9abc-def012345678", v)

	_, err = parseKeyValue("nothing", "IOPlatformUUID")
	assert.Error(t, err)
}

func TestStaticHardwareID(t *testing.T) {
	var p HardwareIDProvider = StaticHardwareID("a1b2c3d4e5f6g7h8")
	assert.Equal(t, "a1b2c3d4e5f6g7h8", p.HardwareID())
}
