/*
Kiln runs the testbed scene on the configured renderer backend until it is
interrupted or the requested number of frames was rendered.
*/
package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/vulkan"
	"github.com/spaghettifunk/kiln/testbed"
)

func main() {
	configPath := flag.String("config", "kiln.toml", "path to the TOML configuration file")
	frames := flag.Uint64("frames", 0, "stop after this many frames, 0 runs until interrupted")
	backend := flag.String("backend", "", "override renderer.backend")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		core.LogInfo("no configuration at %s, using defaults", *configPath)
		cfg, err = core.DefaultConfig(), nil
	}
	if err != nil {
		core.LogError("failed to load configuration: %s", err)
		os.Exit(1)
	}
	if *backend != "" {
		cfg.Renderer.Backend = *backend
	}

	renderer.RegisterBackend(core.BackendVulkan, vulkan.Open)

	tb := testbed.NewTestGame(cfg)

	engine, err := engine.New(tb.Game, cfg)
	if err != nil {
		core.LogError("failed to create the engine: %s", err)
		os.Exit(1)
	}

	if err := engine.Initialize(); err != nil {
		core.LogError("failed to initialize the engine: %s", err)
		_ = engine.Shutdown()
		os.Exit(1)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		// capture sigterm and other system call here
		<-sigCh
		engine.Stop()
	}()

	runErr := engine.Run(*frames)
	if err := engine.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogError("%s", runErr)
		os.Exit(1)
	}
}
