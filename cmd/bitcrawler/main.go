package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fusetim/bitcrawler/krpc"
)

// defaultBootstrapNodes are well-known Mainline DHT entry points used
// when no -bootstrap flag is given.
var defaultBootstrapNodes = []string{
	"router.bittorrent.com:6881",
	"router.utorrent.com:6881",
	"dht.transmissionbt.com:6881",
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s [options]

    -port int          UDP port to listen on (default 6881)
    -nodes path        Node list file to load on start and save on exit
                        (default .bitcrawler_nodes)
    -bootstrap addr     Seed node address (A.B.C.D:port); repeatable.
                        Defaults to the public bittorrent.com/utorrent.com/
                        transmissionbt.com routers when omitted.
    -verbose           Enable debug-level logging
`, os.Args[0])
	os.Exit(2)
}

type addrList []string

func (a *addrList) String() string     { return fmt.Sprint([]string(*a)) }
func (a *addrList) Set(v string) error { *a = append(*a, v); return nil }

func main() {
	var port int
	var nodesPath string
	var bootstrap addrList
	var verbose bool

	flag.Usage = usage
	flag.IntVar(&port, "port", 6881, "")
	flag.StringVar(&nodesPath, "nodes", ".bitcrawler_nodes", "")
	flag.Var(&bootstrap, "bootstrap", "")
	flag.BoolVar(&verbose, "verbose", false, "")
	flag.Parse()

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	id, err := randomNodeID()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to generate node id")
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		logger.Fatal().Err(err).Int("port", port).Msg("failed to bind udp socket")
	}
	logger.Info().Int("port", port).Stringer("id", id).Msg("listening")

	c := newCrawler(id, conn, logger)

	seeds := bootstrap
	if len(seeds) == 0 {
		seeds = defaultBootstrapNodes
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if loaded, err := c.loadNodes(nodesPath); err != nil {
		logger.Warn().Err(err).Str("path", nodesPath).Msg("failed to load node list")
	} else if len(loaded) > 0 {
		logger.Info().Int("count", len(loaded)).Msg("loaded persisted nodes")
		for _, addr := range loaded {
			go pingSeed(c, addr)
		}
	}

	for _, s := range seeds {
		addr, err := resolveAddr(s)
		if err != nil {
			logger.Warn().Err(err).Str("seed", s).Msg("could not resolve bootstrap node")
			continue
		}
		go pingSeed(c, addr)
	}

	go func() {
		<-ctx.Done()
		c.stop()
	}()

	c.run(ctx)

	if err := c.saveNodes(nodesPath); err != nil {
		logger.Warn().Err(err).Str("path", nodesPath).Msg("failed to persist node list")
	}
}

func pingSeed(c *crawler, addr netip.AddrPort) {
	value, err := c.ping(addr)
	if err != nil {
		return
	}
	resp, err := krpc.TryPingResponseFromBencoded(value, krpc.NodeIDCodec)
	if err != nil {
		return
	}
	c.noteNode(resp.Ping.ID, addr)
	go c.findNode(c.id)
}

func resolveAddr(s string) (netip.AddrPort, error) {
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return netip.AddrPort{}, err
	}
	ip, ok := netip.AddrFromSlice(addr.IP.To4())
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("%s is not an IPv4 address", s)
	}
	return netip.AddrPortFrom(ip, uint16(addr.Port)), nil
}

func randomNodeID() (krpc.NodeID, error) {
	var raw [20]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return krpc.NodeID{}, err
	}
	return krpc.NodeID(raw), nil
}
