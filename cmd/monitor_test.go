package cmd

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowlens/internal/config"
	"firestige.xyz/flowlens/internal/core"
	"firestige.xyz/flowlens/internal/engine"
)

// syncBuffer guards a buffer written by the renderer goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeTrace(t *testing.T) string {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("10.0.0.2").To4(),
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		eth, ip, udp, gopacket.Payload(make([]byte, 100))))
	frame := buf.Bytes()

	path := filepath.Join(t.TempDir(), "trace.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

func fileConfig(t *testing.T, path string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Capture.Source = "file"
	cfg.Capture.File = path
	cfg.Capture.Speed = 0
	cfg.Render.Interval = 20 * time.Millisecond
	cfg.Metrics.Enabled = false
	return cfg
}

func TestRunMonitor_ReplaysFileAndExits(t *testing.T) {
	cfg := fileConfig(t, writeTrace(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out syncBuffer
	require.NoError(t, runMonitor(ctx, cfg, engine.Options{}, &out))
	assert.NoError(t, ctx.Err(), "monitor should exit on its own once the file is exhausted")

	s := out.String()
	assert.Contains(t, s, "10.0.0.1:5000")
	assert.Contains(t, s, "10.0.0.2:53")
	assert.Contains(t, s, "state=stopped")
}

func TestRunMonitor_MissingFile(t *testing.T) {
	cfg := fileConfig(t, filepath.Join(t.TempDir(), "missing.pcap"))

	var out syncBuffer
	err := runMonitor(context.Background(), cfg, engine.Options{}, &out)
	assert.ErrorIs(t, err, core.ErrDeviceNotFound)
}

func TestRunMonitor_InvalidSession(t *testing.T) {
	cfg := fileConfig(t, "trace.pcap")
	cfg.Aggregation.KeyMode = "ports"

	err := runMonitor(context.Background(), cfg, engine.Options{}, &syncBuffer{})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestApplyMonitorFlags_FileImpliesSource(t *testing.T) {
	cmd := &cobra.Command{Use: "monitor"}
	cmd.Flags().StringVar(&monitorFlags.source, "source", "", "")
	cmd.Flags().StringVarP(&monitorFlags.file, "file", "f", "", "")
	cmd.Flags().StringVarP(&monitorFlags.iface, "interface", "i", "", "")
	cmd.Flags().StringVar(&monitorFlags.filter, "filter", "", "")
	cmd.Flags().Float64Var(&monitorFlags.speed, "speed", 1, "")
	cmd.Flags().StringVar(&monitorFlags.keyMode, "key-mode", "", "")
	cmd.Flags().StringVar(&monitorFlags.apiListen, "api", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{
		"-f", "trace.pcap", "--filter", "udp", "--speed", "0", "--key-mode", "hosts", "--api", "127.0.0.1:0",
	}))

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, applyMonitorFlags(cmd, cfg))

	assert.Equal(t, "file", cfg.Capture.Source)
	assert.Equal(t, "trace.pcap", cfg.Capture.File)
	assert.Equal(t, "udp", cfg.Capture.Filter)
	assert.Equal(t, 0.0, cfg.Capture.Speed)
	assert.Equal(t, "hosts", cfg.Aggregation.KeyMode)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:0", cfg.API.Listen)
}
