package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ssw-oss/logcore"
	"github.com/ssw-oss/logcore/pkg/logcontext"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Parse()

	if configFile == "" {
		if envConfigFile := os.Getenv("LOGCORE_CONFIG_FILE"); envConfigFile != "" {
			configFile = envConfigFile
		} else {
			configFile = "/etc/logcore/config.yaml"
		}
	}

	fmt.Printf("Using configuration file: %s\n", configFile)

	if _, err := logcore.InitFromFile(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "logcore: failed to initialise: %v\n", err)
		os.Exit(1)
	}

	ctx, scope, err := logcore.Bind(context.Background(), logcontext.Fields{Service: "logcore-demo", Environment: "demo", JobID: "logcore-demo"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logcore: failed to bind context: %v\n", err)
		os.Exit(1)
	}
	defer scope.End()

	logger, err := logcore.Get("logcore.demo")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logcore: failed to get logger: %v\n", err)
		os.Exit(1)
	}
	if _, err := logger.Info(ctx, "logcore runtime started", map[string]any{"config_file": configFile}); err != nil {
		fmt.Fprintf(os.Stderr, "logcore: initial log call failed: %v\n", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("logcore: shutting down")
	if _, err := logger.Info(ctx, "logcore runtime stopping", nil); err != nil {
		fmt.Fprintf(os.Stderr, "logcore: shutdown log call failed: %v\n", err)
	}
	if err := logcore.Shutdown(true, 10*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "logcore: shutdown error: %v\n", err)
		os.Exit(1)
	}
}
