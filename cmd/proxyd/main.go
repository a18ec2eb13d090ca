// cmd/proxyd is the main entrypoint for the object-storage proxy: it loads
// the ring and configuration, wires the lookup cache, error limiter, and
// replication dispatcher, and serves the HTTP surface spec.md §6 describes.
//
// Example:
//
//	./proxyd --config /etc/swift/proxy-server.toml --ring /etc/swift/object.ring.yaml
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"object-proxy/internal/app"
	"object-proxy/internal/config"
	"object-proxy/internal/controller"
	"object-proxy/internal/errorlimiter"
	"object-proxy/internal/lookupcache"
	"object-proxy/internal/metrics"
	"object-proxy/internal/replication"
	"object-proxy/internal/ring"
	"object-proxy/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to proxy-server.toml (optional; defaults apply if absent)")
	ringPath := flag.String("ring", "", "Path to the ring descriptor (overrides config's ring_path)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config's listen_addr)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("proxyd: invalid configuration")
	}
	if *ringPath != "" {
		cfg.RingPath = *ringPath
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	r, err := ring.Load(cfg.RingPath)
	if err != nil {
		log.WithError(err).Fatal("proxyd: failed to load ring")
	}

	var cache lookupcache.Cache
	if len(cfg.MemcacheServers) > 0 {
		cache = lookupcache.NewMemcacheBackend(cfg.MemcacheServers, lookupcache.SerializationSupport(cfg.MemcacheSerializationSupport))
		log.WithField("servers", cfg.MemcacheServers).Info("proxyd: using memcache lookup cache")
	} else {
		cache = lookupcache.NewMemCache()
		log.Info("proxyd: using in-process lookup cache")
	}

	limiter := errorlimiter.New(cfg.ErrorSuppressionLimit, cfg.ErrorSuppressionInterval())
	dispatcher := replication.New(transport.NewHTTP(), limiter, replication.Options{
		ConnectTimeout: cfg.ConnectTimeout(),
		NodeTimeout:    cfg.NodeTimeout(),
		Abort507:       cfg.Abort507,
	})

	deps := &controller.Deps{
		Ring:       r,
		Limiter:    limiter,
		Dispatcher: dispatcher,
		Cache:      cache,
		Cfg:        cfg,
		Metrics:    metrics.New(),
		// Authorize is left nil: token issuance and ACL evaluation are
		// external collaborators (spec.md §1 Non-goals). A deployment
		// wires its own AuthFunc here before calling app.New.
	}

	application := app.New(deps, log)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      application.Engine,
		ReadTimeout:  cfg.ClientTimeout(),
		WriteTimeout: 0, // large-object and range responses can run long; node_timeout governs backend I/O instead
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("proxyd: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("proxyd: server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("proxyd: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("proxyd: graceful shutdown failed")
	}
}
