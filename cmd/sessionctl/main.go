// sessionctl is the command-line and terminal-UI client for sessiond's
// control port. With no verb argument it opens an interactive
// session-list/output viewer; with a verb argument (list, status,
// start, stop, kill, debug, delete, output, upload, deps) it performs
// that one request and prints the JSON reply.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		host        string
		port        int
		dialTimeout time.Duration
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("sessionctl", pflag.ContinueOnError)
	flagSet.StringVar(&host, "host", "localhost", "sessiond control host")
	flagSet.IntVar(&port, "port", 4444, "sessiond control port")
	flagSet.DurationVar(&dialTimeout, "timeout", 5*time.Second, "connection and per-command timeout")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("sessionctl %s\n", version)
		return nil
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	args := flagSet.Args()

	if len(args) == 0 {
		return runTUI(addr, dialTimeout)
	}
	return runCommand(addr, dialTimeout, args)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `sessionctl — control-port client for sessiond.

With no arguments, opens an interactive session list and output
viewer. With a verb, performs a single request and prints the JSON
reply to stdout.

Usage:
  sessionctl [flags]
  sessionctl [flags] <verb> [args...]

Verbs:
  list
  status <id>
  start <id> [--debug]
  stop <id>
  kill <id>
  debug <id>
  delete <id>
  output <id> [offset]
  upload <file> [entry-path]
  deps

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

func runTUI(addr string, timeout time.Duration) error {
	client, err := Dial(addr, timeout)
	if err != nil {
		return err
	}
	defer client.Close()

	program := tea.NewProgram(newModel(client), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func runCommand(addr string, timeout time.Duration, args []string) error {
	client, err := Dial(addr, timeout)
	if err != nil {
		return err
	}
	defer client.Close()

	verb, rest := args[0], args[1:]
	var result any

	switch verb {
	case "list":
		result, err = client.List()
	case "status":
		result, err = requireID(rest, client.Status)
	case "start":
		if len(rest) < 1 {
			return fmt.Errorf("usage: start <id> [--debug]")
		}
		debug := len(rest) >= 2 && rest[1] == "--debug"
		result, err = client.Start(rest[0], debug)
	case "stop":
		result, err = requireID(rest, client.Stop)
	case "kill":
		result, err = requireID(rest, client.Kill)
	case "debug":
		result, err = requireID(rest, client.Debug)
	case "delete":
		result, err = requireID(rest, client.Delete)
	case "output":
		if len(rest) < 1 {
			return fmt.Errorf("usage: output <id> [offset]")
		}
		var offset uint64
		if len(rest) >= 2 {
			fmt.Sscanf(rest[1], "%d", &offset)
		}
		result, err = client.Output(rest[0], offset)
	case "upload":
		if len(rest) < 1 {
			return fmt.Errorf("usage: upload <file> [entry-path]")
		}
		var entry string
		if len(rest) >= 2 {
			entry = rest[1]
		}
		var data []byte
		data, err = os.ReadFile(rest[0])
		if err == nil {
			result, err = client.Upload(data, entry)
		}
	case "deps":
		result, err = client.Deps()
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}

	if err != nil {
		return err
	}
	encoded, jsonErr := json.MarshalIndent(result, "", "  ")
	if jsonErr != nil {
		return jsonErr
	}
	fmt.Println(string(encoded))
	return nil
}

func requireID[T any](args []string, fn func(string) (T, error)) (T, error) {
	var zero T
	if len(args) < 1 {
		return zero, fmt.Errorf("id argument required")
	}
	return fn(args[0])
}
