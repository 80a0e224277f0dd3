/*
File: server.go
Version: 4.0.0
Description: Service wiring and listener orchestration.
             Builds the scorer, feedback recorder, access list and limiter, then serves the API on
             every configured address/port over HTTP, HTTPS or HTTP/3 until the context ends.
             Listeners are bound before serving starts so a bad address fails startup.
*/

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"
)

// ServerShutdowner is implemented by every running listener.
type ServerShutdowner interface {
	Shutdown(ctx context.Context) error
	String() string
}

// HTTPServerWrapper covers plain HTTP and HTTPS (HTTP/1.1 and h2) listeners.
type HTTPServerWrapper struct {
	*http.Server
	listener net.Listener
	secure   bool
}

func (w *HTTPServerWrapper) Shutdown(ctx context.Context) error {
	return w.Server.Shutdown(ctx)
}

func (w *HTTPServerWrapper) String() string {
	if w.secure {
		return fmt.Sprintf("Protocol: HTTPS (HTTP/1.1&2) | Addr: %s", w.listener.Addr())
	}
	return fmt.Sprintf("Protocol: HTTP | Addr: %s", w.listener.Addr())
}

func (w *HTTPServerWrapper) serve() error {
	var err error
	if w.secure {
		err = w.Server.ServeTLS(w.listener, "", "")
	} else {
		err = w.Server.Serve(w.listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// HTTP3ServerWrapper serves the API over QUIC.
type HTTP3ServerWrapper struct {
	*http3.Server
	conn net.PacketConn
}

func (w *HTTP3ServerWrapper) Shutdown(ctx context.Context) error {
	return w.Server.Close()
}

func (w *HTTP3ServerWrapper) String() string {
	return fmt.Sprintf("Protocol: HTTP/3 (QUIC) | Addr: %s", w.conn.LocalAddr())
}

func (w *HTTP3ServerWrapper) serve() error {
	err := w.Server.Serve(w.conn)
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, quic.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve runs the service until ctx is cancelled or a listener fails. The model is loaded
// first; a missing or invalid artifact aborts before anything is bound.
func Serve(ctx context.Context, cfg *Config) error {
	model, err := LoadClassifier(cfg.Model.Path)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	cacheSize := 0
	if cfg.Cache.Enabled {
		cacheSize = cfg.Cache.Size
	}
	scorer := NewScorer(model, cacheSize)
	feedback := NewFeedbackRecorder(cfg.Feedback.Path, os.FileMode(cfg.Feedback.Permissions))

	access, err := NewAccessList(cfg.Server.AllowedNetworks)
	if err != nil {
		return fmt.Errorf("server.allowed_networks: %w", err)
	}
	if access.Len() > 0 {
		LogInfo("[SERVER] Access list active with %d networks", access.Len())
	}

	limiter := NewLimiter(cfg.RateLimit)
	router, err := NewRouter(cfg.Server, scorer, feedback, access, limiter)
	if err != nil {
		return err
	}

	tlsConfig, err := loadTLSConfig(cfg.Server)
	if err != nil {
		return err
	}

	servers, err := bindServers(cfg.Server, router, tlsConfig)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, s := range servers {
		g.Go(func() error {
			LogInfo("Starting Server [%s]", s)
			var err error
			switch srv := s.(type) {
			case *HTTPServerWrapper:
				err = srv.serve()
			case *HTTP3ServerWrapper:
				err = srv.serve()
			}
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("server [%s]: %w", s, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		limiter.StartCleanupRoutine(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownServers(servers, cfg.Server.parsedShutdownTimeout)
		return nil
	})

	LogInfo("[SERVER] phishguard ready: %d listeners, model %s, feedback log %s", len(servers), cfg.Model.Path, feedback.Path())
	return g.Wait()
}

// bindServers opens every address/port combination. On failure the already-open sockets
// are closed again.
func bindServers(cfg ServerConfig, handler http.Handler, tlsConfig *tls.Config) ([]ServerShutdowner, error) {
	var servers []ServerShutdowner
	var closers []func() error

	fail := func(err error) ([]ServerShutdowner, error) {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}

	for _, l := range cfg.Listeners {
		for _, address := range l.Address {
			for _, port := range l.Port {
				addr := net.JoinHostPort(address, strconv.Itoa(port))

				switch strings.ToLower(l.Protocol) {
				case "http", "https":
					ln, err := net.Listen("tcp", addr)
					if err != nil {
						return fail(fmt.Errorf("bind %s listener on %s: %w", l.Protocol, addr, err))
					}
					closers = append(closers, ln.Close)
					srv := &http.Server{
						Handler:           handler,
						ReadHeaderTimeout: cfg.parsedTimeout,
						IdleTimeout:       2 * time.Minute,
					}
					secure := l.Protocol == "https"
					if secure {
						srv.TLSConfig = tlsConfig.Clone()
					}
					servers = append(servers, &HTTPServerWrapper{Server: srv, listener: ln, secure: secure})

				case "h3":
					conn, err := net.ListenPacket("udp", addr)
					if err != nil {
						return fail(fmt.Errorf("bind h3 listener on %s: %w", addr, err))
					}
					closers = append(closers, conn.Close)
					srv := &http3.Server{
						Handler:    handler,
						TLSConfig:  tlsConfig.Clone(),
						QuicConfig: &quic.Config{Allow0RTT: true},
					}
					servers = append(servers, &HTTP3ServerWrapper{Server: srv, conn: conn})

				default:
					return fail(fmt.Errorf("unknown protocol '%s' on %s", l.Protocol, addr))
				}
			}
		}
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("no listeners configured")
	}
	return servers, nil
}

func shutdownServers(servers []ServerShutdowner, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			LogWarn("[SERVER] Shutdown [%s]: %v", s, err)
		} else {
			LogInfo("[SERVER] Stopped [%s]", s)
		}
	}
}

// loadTLSConfig returns nil when no listener needs TLS.
func loadTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	needed := false
	for _, l := range cfg.Listeners {
		if l.Protocol == "https" || l.Protocol == "h3" {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
