package flags

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dots-platform/skrecovery-app/httpserver"
	"github.com/dots-platform/skrecovery-app/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestParsePeers(t *testing.T) {
	peers, err := ParsePeers([]string{"1=10.0.0.1:7400", "2=node-2.example:7400", "3=[::1]:7400"})
	require.NoError(t, err)
	assert.Equal(t, transport.StaticAddresses{
		1: "10.0.0.1:7400",
		2: "node-2.example:7400",
		3: "[::1]:7400",
	}, peers)

	for _, bad := range [][]string{
		{"10.0.0.1:7400"},
		{"0=10.0.0.1:7400"},
		{"x=10.0.0.1:7400"},
		{"1="},
		{"1=a:1", "1=b:1"},
	} {
		_, err := ParsePeers(bad)
		assert.Error(t, err, bad)
	}
}

func TestConfigureServer(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var cfg *httpserver.Config
	app := &cli.App{
		Flags: CommonFlags,
		Action: func(cCtx *cli.Context) error {
			cfg = ConfigureServer(cCtx, log, "0.0.0.0:8080")
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"node", "--pprof", "--drain-seconds", "3", "--metrics-addr", ":9100"}))

	require.NotNil(t, cfg)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.True(t, cfg.EnablePprof)
	assert.Equal(t, 3*time.Second, cfg.DrainDuration)
	assert.Same(t, log, cfg.Log)
}
