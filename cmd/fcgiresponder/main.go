// Command fcgiresponder runs a standalone FastCGI responder that
// serves a small diagnostic handler echoing the request method, URI
// and parameters back to the caller (the request body is read and
// discarded, not echoed), useful for exercising a web server's
// FastCGI configuration end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	fcgi "github.com/gofcgi/responder"
)

func main() {
	var (
		addr           = flag.String("addr", "0.0.0.0", "bind address")
		port           = flag.Int("port", 8080, "bind port")
		maxConcurrent  = flag.Int("max-concurrent", 256, "maximum concurrent connections")
		connTimeoutMs  = flag.Int("conn-timeout-ms", 5000, "per read/write deadline, in milliseconds")
		maxHeaderBytes = flag.Int("max-header-bytes", 16384, "maximum accumulated PARAMS size per request")
		configPath     = flag.String("config", "", "optional JSON config file; overrides the flags above and is hot-reloaded")
	)
	flag.Parse()

	logger := fcgi.NewLogger(os.Stderr, fcgi.LevelInfo)

	cfg := fcgi.Config{
		Addr:           *addr,
		Port:           *port,
		MaxConcurrent:  *maxConcurrent,
		ConnTimeout:    time.Duration(*connTimeoutMs) * time.Millisecond,
		MaxHeaderBytes: *maxHeaderBytes,
		Handler:        echoHandler,
		Logger:         logger,
	}

	if *configPath != "" {
		loaded, err := fcgi.LoadConfigFile(*configPath, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
		cfg.Handler = echoHandler
		cfg.Logger = logger
	}

	srv, err := fcgi.NewServer(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *configPath != "" {
		watcher, err := fcgi.WatchConfigFile(*configPath, srv, logger)
		if err != nil {
			logger.Warningf("fcgi: config hot-reload disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	cancel := fcgi.NotifyShutdown(func() {
		logger.Infof("fcgi: shutting down")
		ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("fcgi: shutdown: %v", err)
		}
	})
	defer cancel()

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// echoHandler reports the request method, path, and decoded
// parameters as an HTTP response, draining and discarding any request
// body so the connection can be reused.
func echoHandler(in *fcgi.InputSide, out *fcgi.OutputSide) {
	if err := in.DiscardRemaining(); err != nil {
		out.SetStatus(502)
		fmt.Fprintf(out, "error reading request body: %v\n", err)
		return
	}

	method, _ := in.Parameter("REQUEST_METHOD")
	uri, _ := in.Parameter("REQUEST_URI")

	out.SetHeader("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(out, "%s %s\n\n", method, uri)
	for k, v := range in.Parameters() {
		fmt.Fprintf(out, "%s=%s\n", k, v)
	}
}
