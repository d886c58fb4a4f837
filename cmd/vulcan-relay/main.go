package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/turn/v3"
	"go.uber.org/zap"

	"github.com/vulcan-relay/vulcan-relay/internal/control"
	"github.com/vulcan-relay/vulcan-relay/internal/logging"
	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine"
	"github.com/vulcan-relay/vulcan-relay/internal/sharedstate"
	relaysignal "github.com/vulcan-relay/vulcan-relay/internal/signal"
)

const (
	envFileProd = ".env.production"
	envFileDev  = ".env.development"

	defaultSignalAddr  = "127.0.0.1:9000"
	defaultControlAddr = "127.0.0.1:9001"
)

func loadEnv() {
	envFile := envFileDev
	if os.Getenv("APP_ENV") == "production" {
		envFile = envFileProd
	}
	if err := godotenv.Load(envFile); err != nil {
		// No .env file is fine; CLI flags and the process environment
		// still work without one.
		return
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "dump-signal-schema":
			fmt.Print(relaysignal.DumpSchema().DumpSDL())
			return 0
		case "dump-control-schema":
			fmt.Print(control.DumpSchema().DumpSDL())
			return 0
		}
	}

	loadEnv()

	fs := flag.NewFlagSet("vulcan-relay", flag.ContinueOnError)
	signalAddr := fs.String("signal-addr", defaultSignalAddr, "host:port for the Signal plane (GraphQL-over-WebSocket)")
	controlAddr := fs.String("control-addr", defaultControlAddr, "host:port for the Control plane (GraphQL-over-HTTP)")
	certPath := fs.String("cert-path", "", "TLS certificate path, required unless --no-tls")
	keyPath := fs.String("key-path", "", "TLS key path, required unless --no-tls")
	noTLS := fs.Bool("no-tls", false, "disable TLS on both endpoints")
	rtcIP := fs.String("rtc-ip", "", "interface the worker uses for ICE candidates")
	rtcAnnounceIP := fs.String("rtc-announce-ip", "", "public address advertised when --rtc-ip is wildcard")
	rtcPortsMin := fs.Uint("rtc-ports-range-min", 10000, "minimum UDP port for RTP")
	rtcPortsMax := fs.Uint("rtc-ports-range-max", 59999, "maximum UDP port for RTP")
	turnAddr := fs.String("turn-addr", "0.0.0.0:3478", "UDP listen address for the embedded TURN relay")
	turnRealm := fs.String("turn-realm", "vulcan-relay", "realm advertised by the embedded TURN relay")
	turnUsername := fs.String("turn-username", "", "static username credential for the embedded TURN relay")
	turnPassword := fs.String("turn-password", "", "static password credential for the embedded TURN relay")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	filter, err := logging.ParseFilter(os.Getenv("VULCAN_LOG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse VULCAN_LOG: %v\n", err)
		return 1
	}
	log := logging.New(filter, "main")
	defer func() { _ = log.Sync() }()

	if !*noTLS && (*certPath == "" || *keyPath == "") {
		log.Error("--cert-path and --key-path are required unless --no-tls is set")
		return 1
	}

	worker, err := mediaengine.NewWorker(mediaengine.WorkerConfig{
		RTCIP:            *rtcIP,
		RTCAnnounceIP:    *rtcAnnounceIP,
		RTCPortsRangeMin: uint16(*rtcPortsMin),
		RTCPortsRangeMax: uint16(*rtcPortsMax),
	})
	if err != nil {
		log.Error("construct media engine worker", zap.Error(err))
		return 1
	}
	defer func() {
		if err := worker.Close(); err != nil {
			log.Warn("close media engine worker", zap.Error(err))
		}
	}()

	if *rtcAnnounceIP != "" && *turnUsername != "" && *turnPassword != "" {
		authKey := turn.GenerateAuthKey(*turnUsername, *turnRealm, *turnPassword)
		authFn := func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
			if username != *turnUsername {
				return nil, false
			}
			return authKey, true
		}
		if err := worker.StartEmbeddedTURN(*turnAddr, *turnRealm, authFn); err != nil {
			log.Error("start embedded turn relay", zap.Error(err))
			return 1
		}
		log.Info("embedded turn relay started", zap.String("turn_addr", *turnAddr))
	}

	state := sharedstate.New(worker)
	controlSvc := control.New(state, logging.New(filter, "control"))
	signalSvc := relaysignal.New(state, logging.New(filter, "signal"))

	controlMux := http.NewServeMux()
	controlMux.HandleFunc("/graphql", controlSvc.Handler())

	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/graphql", signalSvc.Handler())

	controlSrv := &http.Server{Addr: *controlAddr, Handler: controlMux}
	signalSrv := &http.Server{Addr: *signalAddr, Handler: signalMux}

	errCh := make(chan error, 2)
	go func() { errCh <- serve(controlSrv, *noTLS, *certPath, *keyPath) }()
	go func() { errCh <- serve(signalSrv, *noTLS, *certPath, *keyPath) }()

	log.Info("vulcan-relay listening",
		zap.String("control_addr", *controlAddr),
		zap.String("signal_addr", *signalAddr),
		zap.Bool("tls", !*noTLS))

	interruptChan := make(chan os.Signal, 1)
	ossignal.Notify(interruptChan, os.Interrupt)

	select {
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
		return 1
	case <-interruptChan:
		log.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = controlSrv.Shutdown(ctx)
	_ = signalSrv.Shutdown(ctx)

	return 0
}

func serve(srv *http.Server, noTLS bool, certPath, keyPath string) error {
	if noTLS {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	if err := srv.ListenAndServeTLS(certPath, keyPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
