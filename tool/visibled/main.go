/*
Copyright 2025 VISIBLE

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	visible "github.com/imrandevop/VISIBLE-sub000"
	"github.com/imrandevop/VISIBLE-sub000/lib/config"
	"github.com/imrandevop/VISIBLE-sub000/lib/service"
	"github.com/imrandevop/VISIBLE-sub000/lib/utils"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	// Baseline logging until the configuration overrides it.
	utils.InitLogger("info")

	var clf config.CommandLineFlags

	app := kingpin.New("visibled", "VISIBLE realtime service marketplace server.")
	app.HelpFlag.Short('h')
	app.Flag("debug", "Enable verbose logging to stderr.").
		Short('d').BoolVar(&clf.Debug)

	startCmd := app.Command("start", "Starts the visibled process.")
	startCmd.Flag("config", "Path to a configuration file in YAML format.").
		Short('c').StringVar(&clf.ConfigFile)
	startCmd.Flag("config-string", "Base64 encoded configuration string.").
		Hidden().Envar(config.EnvConfigString).StringVar(&clf.ConfigString)
	startCmd.Flag("listen-addr", "Address for the gateway to bind to.").
		StringVar(&clf.ListenAddr)
	startCmd.Flag("diag-addr", "Address for the diagnostics endpoint to bind to.").
		StringVar(&clf.DiagAddr)
	startCmd.Flag("insecure-no-push", "Run without FCM credentials, mobile push is disabled.").
		BoolVar(&clf.InsecureNoPush)

	versionCmd := app.Command("version", "Print the version of your visibled binary.")

	command, err := app.Parse(args)
	if err != nil {
		app.Usage(args)
		return trace.Wrap(err)
	}

	switch command {
	case startCmd.FullCommand():
		return trace.Wrap(onStart(&clf))
	case versionCmd.FullCommand():
		fmt.Printf("visibled v%v %v\n", visible.Version, runtime.Version())
		return nil
	}
	return trace.BadParameter("command %q not configured", command)
}

// onStart assembles the configuration layers and serves until a
// SIGINT or SIGTERM starts the graceful drain.
func onStart(clf *config.CommandLineFlags) error {
	cfg := service.MakeDefaultConfig()
	if err := config.Configure(clf, cfg); err != nil {
		return trace.Wrap(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := service.New(ctx, cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(server.Run(ctx))
}
