package fcgi

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"
)

// errorLogBurst and errorLogRate bound how many error-level log lines
// a single remote address can produce per second, so one misbehaving
// or flapping peer cannot flood the log.
const (
	errorLogRate  = rate.Limit(5)
	errorLogBurst = 20
)

// Server listens for FastCGI connections and runs one ConnectionWorker
// per accepted connection, honoring the role/back-pressure/shutdown
// rules of a responder-only deployment. Grounded on
// eudore-eudore/protocol/fastcgi/server.go's Listen/Serve split, with
// the teacher's fixed-size worker-slot array replaced by
// golang.org/x/net/netutil.LimitListener: the teacher's own go.mod
// already pulls in golang.org/x/net for its HTTP/2 server, and
// LimitListener gives the same bounded-concurrency guarantee without a
// hand-rolled semaphore.
type Server struct {
	handler Handler
	logger  Logger
	rlogger *RateLimitedLogger

	connTimeout    atomic.Int64 // time.Duration, nanoseconds
	maxHeaderBytes atomic.Int32

	addr          string
	port          int
	maxConcurrent int

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   bool
}

// NewServer builds a Server from cfg, filling any zero field from
// DefaultConfig and validating the result. It does not bind a socket;
// call ListenAndServe or Serve for that.
func NewServer(cfg Config) (*Server, error) {
	merged := mergeDefaults(cfg)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	logger := merged.Logger
	if logger == nil {
		logger = discardLogger{}
	}
	srv := &Server{
		handler:       merged.Handler,
		logger:        logger,
		rlogger:       NewRateLimitedLogger(logger, errorLogRate, errorLogBurst),
		addr:          merged.Addr,
		port:          merged.Port,
		maxConcurrent: merged.MaxConcurrent,
	}
	srv.connTimeout.Store(int64(merged.ConnTimeout))
	srv.maxHeaderBytes.Store(int32(merged.MaxHeaderBytes))
	return srv, nil
}

func mergeDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Addr != "" {
		def.Addr = cfg.Addr
	}
	if cfg.Port != 0 {
		def.Port = cfg.Port
	}
	if cfg.MaxConcurrent != 0 {
		def.MaxConcurrent = cfg.MaxConcurrent
	}
	if cfg.ConnTimeout != 0 {
		def.ConnTimeout = cfg.ConnTimeout
	}
	if cfg.MaxHeaderBytes != 0 {
		def.MaxHeaderBytes = cfg.MaxHeaderBytes
	}
	def.Handler = cfg.Handler
	def.Logger = cfg.Logger
	return def
}

// Config returns the Server's current effective configuration,
// including any live-reloaded fields.
func (s *Server) Config() Config {
	return Config{
		Addr:           s.addr,
		Port:           s.port,
		MaxConcurrent:  s.maxConcurrent,
		ConnTimeout:    time.Duration(s.connTimeout.Load()),
		MaxHeaderBytes: int(s.maxHeaderBytes.Load()),
		Handler:        s.handler,
		Logger:         s.logger,
	}
}

// applyLiveConfig updates the fields a ConfigWatcher is permitted to
// change while the Server is running. Addr/Port/MaxConcurrent are
// intentionally not touched here; ConfigWatcher.reload already
// refuses to pass them through changed.
func (s *Server) applyLiveConfig(cfg Config) {
	s.connTimeout.Store(int64(cfg.ConnTimeout))
	s.maxHeaderBytes.Store(int32(cfg.MaxHeaderBytes))
}

func (s *Server) connTimeoutFunc() time.Duration { return time.Duration(s.connTimeout.Load()) }
func (s *Server) maxHeaderBytesFunc() int        { return int(s.maxHeaderBytes.Load()) }

// ListenAndServe binds the configured address and port and serves
// until the listener is closed or Shutdown is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.addr, s.port))
	if err != nil {
		return fmt.Errorf("fcgi: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve runs the accept loop over an already-bound listener, wrapping
// it in a netutil.LimitListener so no more than MaxConcurrent
// connections are accepted at once; additional dialers queue at the OS
// listen backlog, whose depth Go's net package leaves to the OS
// default rather than exposing a configurable size.
func (s *Server) Serve(ln net.Listener) error {
	bounded := netutil.LimitListener(ln, s.maxConcurrent)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		bounded.Close()
		return fmt.Errorf("fcgi: server already shut down")
	}
	s.listener = bounded
	s.mu.Unlock()

	s.logger.Infof("fcgi: listening on %s (max concurrent %d)", ln.Addr(), s.maxConcurrent)
	for {
		conn, err := bounded.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("fcgi: accept: %w", err)
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	remote := s.rlogger.ForRemote(conn.RemoteAddr().String())
	w := newConnectionWorker(conn, s.connTimeoutFunc, s.maxHeaderBytesFunc, s.handler, remote)
	w.Run()
}

// Shutdown stops accepting new connections and waits for in-flight
// connections to finish, or for ctx to be done, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	var closeErr error
	if ln != nil {
		closeErr = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.rlogger.Close()
		return closeErr
	case <-ctx.Done():
		s.rlogger.Close()
		merr := &multiError{}
		merr.Add(closeErr)
		merr.Add(ctx.Err())
		return merr.ErrorOrNil()
	}
}
