// Command vkcproxy runs the cluster proxy: a single listener that
// classifies, routes, and coalesces client commands against a pool of
// backend instance links, keeping its slot table in sync with cluster
// topology (spec.md §1-§8).
package main

import (
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreslot/vkcproxy/proxy"
	"github.com/golang/glog"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "vkcproxy.conf", "path to the proxy configuration file")
	listenAddr := flag.String("addr", ":36379", "client-facing listen address")
	flag.Parse()
	defer glog.Flush()

	cfg, err := proxy.LoadConfig(*configPath)
	if err != nil {
		glog.Errorf("main: loading config %s: %v", *configPath, err)
		return 1
	}
	glog.Infof("main: myid=%s", cfg.MyID)

	d := proxy.NewDispatcher(cfg)
	if err := d.Bootstrap(); err != nil {
		glog.Errorf("main: bootstrap: %v", err)
		return 1
	}
	d.Run()

	srv := proxy.NewServer(*listenAddr, d)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Infof("main: signal received, shutting down")
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, net.ErrClosed) {
		glog.Errorf("main: serve: %v", err)
		return 1
	}
	return 0
}
