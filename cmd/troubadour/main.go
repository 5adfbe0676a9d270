// Command troubadour runs the virtual audio mixer as a standalone
// process. The UI talks to it through the dispatcher's JSON surface;
// this binary wires that to stdin/stdout line framing.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/troubadour-audio/troubadour"
	"github.com/troubadour-audio/troubadour/engine"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "troubadour.toml", "path to the configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	mixer, err := troubadour.New(troubadour.Options{ConfigPath: *configPath})
	if err != nil {
		slog.Error("initialization failed", "error", err)
		return 1
	}

	if err := mixer.Start(); err != nil {
		slog.Error("engine start failed", "error", err)
		mixer.Close()
		return 1
	}
	slog.Info("troubadour running", "config", *configPath)

	fatal := make(chan struct{})
	go watchEvents(mixer, fatal)

	dispatcher := troubadour.NewDispatcher(mixer)
	done := make(chan struct{})
	go serveStdio(dispatcher, done)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case s := <-sig:
		slog.Info("shutting down", "signal", s)
	case <-done:
		slog.Info("input closed, shutting down")
	case <-fatal:
		slog.Error("engine failed, shutting down")
		mixer.Close()
		return 1
	}

	if err := mixer.SaveConfig(); err != nil {
		slog.Warn("final config save failed", "error", err)
	}
	if err := mixer.Close(); err != nil {
		slog.Error("shutdown failed", "error", err)
		return 1
	}
	return 0
}

// serveStdio reads one JSON request per line and writes one JSON
// response per line.
func serveStdio(d *troubadour.Dispatcher, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	out := bufio.NewWriter(os.Stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out.Write(d.HandleJSON(line))
		fmt.Fprintln(out)
		out.Flush()
	}
}

// watchEvents drains the engine's notification stream, closing fatal
// when the engine thread dies.
func watchEvents(m *troubadour.Mixer, fatal chan<- struct{}) {
	for ev := range m.Events() {
		if _, ok := ev.(engine.FatalEvent); ok {
			close(fatal)
			return
		}
		slog.Info("engine event", "event", fmt.Sprintf("%+v", ev))
	}
}
