package main

import (
	"bytes"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/protocol"
	"github.com/versatilecz/evac/internal/repository"
	"github.com/versatilecz/evac/internal/version"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, version.String()+"\n", out.String())
}

func TestDevicePositionCommand(t *testing.T) {
	listener, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(netip.MustParseAddrPort("127.0.0.1:0")))
	require.NoError(t, err)
	defer listener.Close()

	dir := t.TempDir()
	scanner := models.Scanner{UUID: uuid.New(), Mac: models.MAC{0xa, 0xb}}
	device := models.Device{UUID: uuid.New(), Mac: models.MAC{1, 2, 3}}
	data := models.NewData()
	data.Scanners[scanner.UUID] = scanner
	data.Devices[device.UUID] = device
	dataPath := filepath.Join(dir, "data.json")
	require.NoError(t, repository.NewJSONFileStore(dataPath).Save(t.Context(), data))

	configPath := filepath.Join(dir, "server.yaml")
	body := fmt.Sprintf("base:\n  dataPath: %s\n  portScanner: %s\n", dataPath, listener.LocalAddr())
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))
	t.Setenv("EVAC_SERVER_CONFIG", "")

	root := newRootCmd()
	root.SetArgs([]string{"device-position", "-c", configPath,
		"-d", device.UUID.String(), "-s", scanner.UUID.String(), "--rssi=-42"})
	require.NoError(t, root.Execute())

	buf := make([]byte, protocol.MaxDatagram)
	var got []protocol.Message
	for i := 0; i < 2; i++ {
		require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := listener.ReadFromUDPAddrPort(buf)
		require.NoError(t, err)
		m, err := protocol.Decode(buf[:n])
		require.NoError(t, err)
		got = append(got, m)
	}

	assert.Equal(t, protocol.Register{Mac: scanner.Mac}, got[0].Content)
	result, ok := got[1].Content.(protocol.ScanResult)
	require.True(t, ok)
	assert.Equal(t, device.Mac, result.Mac)
	assert.Equal(t, int32(-42), result.RSSI)
	assert.Equal(t, []byte{0x02, 0x01, 0x06, 0x0a, 0x16, 0xd2, 0xfc, 0x44, 0x00, 0xcb, 0x01, 0x56, 0x3a, 0x00}, result.Data)
}

func TestDevicePositionRejectsUnknownScanner(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "server.yaml")
	body := fmt.Sprintf("base:\n  dataPath: %s\n", filepath.Join(dir, "data.json"))
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))
	t.Setenv("EVAC_SERVER_CONFIG", "")

	root := newRootCmd()
	root.SetArgs([]string{"device-position", "-c", configPath, "-d", uuid.NewString(), "-s", uuid.NewString()})
	assert.ErrorContains(t, root.Execute(), "not found")
}
