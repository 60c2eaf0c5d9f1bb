// Command sipua runs a standalone user agent: it binds one socket, and
// optionally keeps a REGISTER binding refreshed against a registrar,
// logging dispatcher events as they occur.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sipuago/sipua/sip"
	"github.com/sipuago/sipua/ua"
)

// mustSplitHostPort parses "host:port" flags into a sip.Uri's Host/Port
// fields; used only for this command's own flag values, which are always
// well-formed host:port pairs.
func mustSplitHostPort(hostport string) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		log.Fatal().Err(err).Str("addr", hostport).Msg("invalid host:port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Fatal().Err(err).Str("port", portStr).Msg("invalid port")
	}
	return host, port
}

func main() {
	addr := flag.String("addr", "127.0.0.1:5060", "Local socket address")
	transportName := flag.String("t", "udp", "Transport (udp, tcp, tls, ws, wss)")
	username := flag.String("u", "alice", "SIP username")
	password := flag.String("p", "", "Digest password")
	registrarAddr := flag.String("registrar", "", "Registrar host:port; empty disables registration")
	metricsAddr := flag.String("metrics", "", "Address to serve /metrics on; empty disables it")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger()

	host, port := mustSplitHostPort(*addr)
	localURI := sip.Uri{User: *username, Host: host, Port: port}

	cfg := ua.Config{
		URI:               localURI,
		AuthorizationUser: *username,
		Password:          *password,
		ContactURI:        localURI,
		TransportType:     *transportName,
		Sockets: []ua.SocketConfig{
			{Network: *transportName, Addr: *addr},
		},
	}
	if *registrarAddr != "" {
		regHost, regPort := mustSplitHostPort(*registrarAddr)
		cfg.Register = true
		cfg.RegisterExpires = 3600
		cfg.RegistrarServer = sip.Uri{Host: regHost, Port: regPort}
	}

	options := []ua.UAOption{ua.WithConfig(cfg)}
	if *metricsAddr != "" {
		options = append(options, ua.WithMetricsRegisterer(prometheus.DefaultRegisterer))
	}

	u, err := ua.New(options...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build user agent")
	}

	u.Events.OnRegistered(func(ev ua.RegisteredEvent) {
		log.Info().Uint32("expires", ev.Expires).Msg("registered")
	})
	u.Events.OnRegistrationFailed(func(ev ua.RegistrationFailedEvent) {
		log.Error().Msg("registration failed")
	})
	u.Events.OnNewSession(func(ev ua.NewSessionEvent) {
		log.Info().Str("call-id", ev.CallID).Msg("new session")
	})

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := u.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start user agent")
	}
	log.Info().Str("addr", *addr).Str("transport", *transportName).Msg("user agent started")

	<-ctx.Done()
	u.Stop()
}
