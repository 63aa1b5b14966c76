// Command lifegrid runs the partitioned Game of Life benchmark.
//
//	lifegrid run [flags] <powmin> <powmax>      all ranks in this process
//	lifegrid rank [flags] <powmin> <powmax>     one rank of a TCP mesh
//	lifegrid serve [flags]                      engine service
//	lifegrid request [flags] <powmin> <powmax>  ask an engine service for a run
//	lifegrid history [flags]                    list recorded runs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

const usage = `usage: lifegrid <command> [flags] [args]

commands:
  run <powmin> <powmax>       run every rank in this process
  rank <powmin> <powmax>      run one rank of a TCP mesh (-rank, -peers)
  serve                       run the engine service
  request <powmin> <powmax>   send a run request to an engine service
  history                     list recorded runs (-db, -results, -id)

Run 'lifegrid <command> -h' for the flags of a command.
`

// usageError marks bad command-line input
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func usagef(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// runMain dispatches a command and maps its error to an exit code
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 1
	}

	var err error
	switch args[0] {
	case "run":
		err = cmdRun(ctx, args[1:], stdout, stderr)
	case "rank":
		err = cmdRank(ctx, args[1:], stdout, stderr)
	case "serve":
		err = cmdServe(ctx, args[1:], stderr)
	case "request":
		err = cmdRequest(ctx, args[1:], stdout, stderr)
	case "history":
		err = cmdHistory(ctx, args[1:], stdout, stderr)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		err = usagef("unknown command %q", args[0])
	}

	if err == nil || errors.Is(err, flag.ErrHelp) {
		return 0
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	if isUsage(err) {
		fmt.Fprint(stderr, usage)
	}
	return 1
}

// powRange parses the two positional exponents
func powRange(fs *flag.FlagSet) (int, int, error) {
	if fs.NArg() != 2 {
		return 0, 0, usagef("%s needs <powmin> <powmax>, got %d arguments", fs.Name(), fs.NArg())
	}
	powMin, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		return 0, 0, usagef("powmin %q is not an integer", fs.Arg(0))
	}
	powMax, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		return 0, 0, usagef("powmax %q is not an integer", fs.Arg(1))
	}
	return powMin, powMax, nil
}
