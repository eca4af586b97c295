package flags

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dots-platform/skrecovery-app/common"
	"github.com/dots-platform/skrecovery-app/httpserver"
	"github.com/dots-platform/skrecovery-app/instanceutils/serviceresolver"
	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/storage"
	"github.com/dots-platform/skrecovery-app/transport"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.Config {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	return &httpserver.Config{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             5 * time.Minute,
	}
}

// ClusterConfig validates --parties and --threshold.
func ClusterConfig(cCtx *cli.Context) (interfaces.Config, error) {
	return interfaces.NewConfig(cCtx.Int(PartiesFlag.Name), cCtx.Int(ThresholdFlag.Name))
}

// StorageBackend opens every --storage location. More than one location is
// combined into a replicated backend.
func StorageBackend(cCtx *cli.Context, logger *slog.Logger) (interfaces.StorageBackend, error) {
	uris := cCtx.StringSlice(StorageFlag.Name)
	locations := make([]interfaces.StorageBackendLocation, len(uris))
	for i, u := range uris {
		locations[i] = interfaces.StorageBackendLocation(u)
	}
	return storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
}

// ParsePeers parses id=host:port pairs.
func ParsePeers(specs []string) (transport.StaticAddresses, error) {
	out := make(transport.StaticAddresses, len(specs))
	for _, spec := range specs {
		idStr, addr, ok := strings.Cut(spec, "=")
		if !ok || addr == "" {
			return nil, fmt.Errorf("peer %q: expected id=host:port", spec)
		}
		id, err := strconv.Atoi(idStr)
		if err != nil || id < 1 {
			return nil, fmt.Errorf("peer %q: bad party identifier", spec)
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("peer %d listed twice", id)
		}
		out[id] = addr
	}
	return out, nil
}

// AddressBook returns the peer address source: SRV discovery when
// --peers-srv is set, the static --peers list otherwise.
func AddressBook(cCtx *cli.Context) (transport.AddressBook, error) {
	if srv := cCtx.String(PeersSRVFlag.Name); srv != "" {
		return serviceresolver.NewSRVAddressBook(srv, cCtx.String(NameserverFlag.Name)), nil
	}
	peers := cCtx.StringSlice(PeersFlag.Name)
	if len(peers) == 0 {
		return nil, fmt.Errorf("one of --%s or --%s is required", PeersFlag.Name, PeersSRVFlag.Name)
	}
	return ParsePeers(peers)
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait after marking the server not ready on shutdown",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var PartiesFlag = &cli.IntFlag{
	Name:     "parties",
	Aliases:  []string{"n"},
	Required: true,
	Usage:    "number of nodes in the cluster",
}
var ThresholdFlag = &cli.IntFlag{
	Name:     "threshold",
	Aliases:  []string{"t"},
	Required: true,
	Usage:    "corruption threshold; 2*threshold < parties",
}
var RankFlag = &cli.IntFlag{
	Name:     "rank",
	Required: true,
	Usage:    "this node's party identifier, 1..parties",
}
var PeersFlag = &cli.StringSliceFlag{
	Name:  "peers",
	Usage: "peer listener addresses as id=host:port, one per node including this one",
}
var PeersSRVFlag = &cli.StringFlag{
	Name:  "peers-srv",
	Usage: "discover peers from the SRV records of this name instead of --peers",
}
var NameserverFlag = &cli.StringFlag{
	Name:  "nameserver",
	Value: serviceresolver.DefaultNameserver,
	Usage: "DNS server used with --peers-srv",
}
var PeerListenAddrFlag = &cli.StringFlag{
	Name:  "peer-listen-addr",
	Value: "0.0.0.0:7400",
	Usage: "address to accept peer connections on",
}
var StorageFlag = &cli.StringSliceFlag{
	Name:     "storage",
	Required: true,
	Usage:    "blob storage location URI (file://, s3://, vault://, mem://); repeat to replicate",
}

var ClusterFlags = []cli.Flag{
	PartiesFlag,
	ThresholdFlag,
}
