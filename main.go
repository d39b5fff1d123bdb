package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joyent/manatee-topology/config"
	"github.com/joyent/manatee-topology/manatee"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	initLogging(cfg)

	if err := Run(cfg); err != nil {
		log.WithError(err).Fatal("manatee-topology exited with an error")
	}
}

// Run starts a PrimaryResolver for cfg and blocks until a termination
// signal is received, logging primary add/remove transitions as they
// happen.
func Run(cfg *config.Config) error {
	primeFromCache(cfg)

	resolver := manatee.NewPrimaryResolver(cfg, log.WithField("package", "main"))

	resolver.OnAdded(func(key string, rec manatee.PrimaryRecord) {
		log.WithFields(log.Fields{
			"key":     key,
			"address": rec.Address,
			"port":    rec.Port,
		}).Info("primary added")
	})
	resolver.OnRemoved(func(key string) {
		log.WithField("key", key).Info("primary removed")
	})

	resolver.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if resolver.State() == manatee.Running || resolver.State() == manatee.Failed {
		resolver.Stop()
	}
	return nil
}

// primeFromCache logs the last-persisted topology, if any, as a best-effort
// bootstrap hint ahead of the first ZK session completing. It never feeds
// into the resolver: the resolver only ever trusts what ShardClient derives
// from a live session.
func primeFromCache(cfg *config.Config) {
	if cfg.TopologyCachePath == "" {
		return
	}
	cache := manatee.NewTopologyCache(afero.NewOsFs(), cfg.TopologyCachePath)
	urls, err := cache.Load()
	if err != nil {
		log.WithError(err).Warn("could not read topology cache")
		return
	}
	if len(urls) == 0 {
		return
	}
	log.WithField("urls", urls).Info("primed topology from cache")
}
