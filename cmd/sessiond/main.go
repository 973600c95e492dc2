package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sessiond/sessiond/internal/config"
	"github.com/sessiond/sessiond/internal/core"
	"github.com/sessiond/sessiond/internal/daemon"
	"github.com/sessiond/sessiond/internal/eventloop"
	"github.com/sessiond/sessiond/internal/launch"
)

func main() {
	// A re-exec of this same binary as the fork/exec trampoline looks
	// like any other process from the outside; the sentinel argument is
	// the only thing distinguishing it from a normal daemon start.
	if len(os.Args) > 1 && os.Args[1] == launch.HelperArg {
		launch.RunHelper(os.Args[2:])
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile    string
		port          int
		sessionCap    int
		maxTotalBytes int64
		dropUser      string
		dropGroup     string
		debugStub     string
		logLevel      string
	)

	flag.StringVar(&configFile, "config", "", "optional YAML configuration file; flags override its values")
	flag.IntVar(&port, "port", 0, "TCP port the control listener binds (default 4444)")
	flag.IntVar(&sessionCap, "session-cap", -1, "maximum concurrently registered sessions, 0 for unlimited")
	flag.Int64Var(&maxTotalBytes, "max-total-bytes", -1, "aggregate byte cap across admitted session images, 0 for unlimited")
	flag.StringVar(&dropUser, "user", "", "user to drop privileges to after binding the listener")
	flag.StringVar(&dropGroup, "group", "", "group to drop privileges to after binding the listener (defaults to user's primary group)")
	flag.StringVar(&debugStub, "debug-stub", "", "debugger-stub binary name looked up on PATH (default gdbserver)")
	flag.StringVar(&logLevel, "log-level", "", "minimum log level: debug, info, warn, or error (default info)")
	flag.Parse()

	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.LoadFile(configFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	// Flags explicitly set on the command line override whatever the
	// file (or Default) supplied.
	if port != 0 {
		cfg.Port = port
	}
	if sessionCap != -1 {
		cfg.SessionCap = sessionCap
	}
	if maxTotalBytes != -1 {
		cfg.MaxTotalBytes = maxTotalBytes
	}
	if dropUser != "" {
		cfg.User = dropUser
	}
	if dropGroup != "" {
		cfg.Group = dropGroup
	}
	if debugStub != "" {
		cfg.DebugStub = debugStub
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if cfg.DebugStub != "" {
		launch.StubBinary = cfg.DebugStub
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := core.NewRegistry(cfg.SessionCap, cfg.MaxTotalBytes)
	launcher := launch.NewLauncher()
	loop := eventloop.New()
	d := daemon.New(registry, launcher, loop, logger)

	if err := d.Listen(cfg.Port); err != nil {
		return fmt.Errorf("listening on port %d: %w", cfg.Port, err)
	}
	defer d.Close()

	if cfg.User != "" {
		if err := dropPrivileges(cfg.User, cfg.Group); err != nil {
			return fmt.Errorf("dropping privileges: %w", err)
		}
		logger.Info("dropped privileges", "user", cfg.User, "group", cfg.Group)
	}

	logger.Info("sessiond starting",
		"port", cfg.Port,
		"session_cap", cfg.SessionCap,
		"max_total_bytes", cfg.MaxTotalBytes,
		"debug_stub", cfg.DebugStub,
	)

	stopCh := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stopCh)
	}()

	if err := loop.Run(stopCh); err != nil {
		return fmt.Errorf("event loop: %w", err)
	}

	logger.Info("sessiond shutting down")
	return nil
}

// parseLevel maps a validated log-level string to its slog.Level. cfg
// has already been through Validate, so the default case never fires
// on a config that reached here.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dropPrivileges switches the process's uid/gid after the listening
// socket is already bound, following userName/groupName down to
// numeric ids via the standard library's NSS lookup. Group is set
// before user, since changing uid first would strip the permission to
// change gid.
func dropPrivileges(userName, groupName string) error {
	u, err := user.Lookup(userName)
	if err != nil {
		return fmt.Errorf("looking up user %q: %w", userName, err)
	}

	gid := u.Gid
	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("looking up group %q: %w", groupName, err)
		}
		gid = g.Gid
	}

	gidNum, err := strconv.Atoi(gid)
	if err != nil {
		return fmt.Errorf("parsing gid %q: %w", gid, err)
	}
	if err := unix.Setgid(gidNum); err != nil {
		return fmt.Errorf("setgid %d: %w", gidNum, err)
	}

	uidNum, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("parsing uid %q: %w", u.Uid, err)
	}
	if err := unix.Setuid(uidNum); err != nil {
		return fmt.Errorf("setuid %d: %w", uidNum, err)
	}

	return nil
}
