// Copyright (C) 2014 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// zebrad is the routing daemon supervisor: it wires the ConfigManager,
// the BgpInstance and the control-plane RPC server together and keeps
// them running until a termination signal arrives.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zebra-rs/bgpd/config"
	"github.com/zebra-rs/bgpd/parser"
	"github.com/zebra-rs/bgpd/rpc"
	"github.com/zebra-rs/bgpd/server"
)

func main() {
	fs := pflag.NewFlagSet("zebrad", pflag.ExitOnError)
	fs.String("config", "", "bootstrap configuration file (yaml/toml)")
	fs.String("listen", rpc.DefaultListen, "control-plane listen address")
	fs.String("yang-path", config.DefaultYangPath(), "YANG schema directory")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.StringSlice("etcd-endpoints", nil, "etcd endpoints to watch for configuration")
	fs.String("etcd-key", "/zebra/bgp", "etcd key carrying the configuration")
	fs.Parse(os.Args[1:])

	v := viper.New()
	v.BindPFlags(fs)
	v.SetEnvPrefix("zebra")
	v.AutomaticEnv()

	level, err := log.ParseLevel(v.GetString("log-level"))
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	mgr := config.NewConfigManager()
	instance := server.NewBgpInstance(0, nil, nil)
	mgr.Subscribe(instance.PushLine)
	mgr.SubscribeSnapshot(instance.PushConfig)
	registerShowFuncs(mgr, instance)

	go instance.Run()
	go mgr.Run()

	bootstrap(mgr, v.GetString("config"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if endpoints := v.GetStringSlice("etcd-endpoints"); len(endpoints) > 0 {
		go watchEtcd(ctx, mgr, endpoints, v.GetString("etcd-key"))
	}

	rpcServer := rpc.NewServer(mgr)
	go func() {
		if err := rpcServer.Serve(v.GetString("listen")); err != nil {
			log.WithError(err).Fatal("rpc server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	rpcServer.Stop()
	instance.Stop()
	mgr.Stop()
}

// bootstrap seeds the configuration: an explicit --config file wins,
// otherwise the previously saved running config is replayed if one
// exists.
func bootstrap(mgr *config.ConfigManager, path string) {
	if path != "" {
		set, err := config.DecodeFile(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Fatal("failed to read bootstrap config")
		}
		if err := mgr.ApplySnapshot(set); err != nil {
			log.WithError(err).Fatal("failed to apply bootstrap config")
		}
		return
	}
	saved := config.DefaultConfigPath()
	if _, err := os.Stat(saved); err != nil {
		return
	}
	if err := mgr.Load(""); err != nil {
		log.WithError(err).WithField("path", saved).Warn("failed to load saved config")
	}
}

func watchEtcd(ctx context.Context, mgr *config.ConfigManager, endpoints []string, key string) {
	configCh := make(chan config.BgpConfigSet)
	go func() {
		for set := range configCh {
			if err := mgr.ApplySnapshot(set); err != nil {
				log.WithError(err).Warn("failed to apply etcd config")
			}
		}
	}()
	if err := config.WatchEtcd(ctx, endpoints, key, configCh); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("etcd watch terminated")
	}
	close(configCh)
}

// registerShowFuncs binds the show commands to the live BGP state.
// Both arrive through the Show service's RedirectShow handoff; the
// neighbor detail recovers its address from the key-matched path
// element.
func registerShowFuncs(mgr *config.ConfigManager, instance *server.BgpInstance) {
	mgr.RegisterShowFunc("bgp.summary", func(paths []parser.CommandPath) []string {
		return instance.Show("summary")
	})
	mgr.RegisterShowFunc("bgp.neighbor", func(paths []parser.CommandPath) []string {
		for _, p := range paths {
			if p.Key == "address" {
				return instance.Show(p.Name)
			}
		}
		return []string{"% missing neighbor address"}
	})
}
