package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/guseggert/runlet/agent"
	"github.com/guseggert/runlet/compiler"
	"github.com/guseggert/runlet/event"
	"github.com/guseggert/runlet/supervisor"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "runlet",
		Usage: "compile a batch of sources and supervise the resulting program",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level for internal logging. One of [debug,info,warn,error].",
				Value: "info",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			remoteCommand(),
			serveCommand(),
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	err := lvl.Set(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "compile source files locally, then run and supervise the program",
		ArgsUsage: "FILES...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Usage:    "The output directory for compiled artifacts.",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "main",
				Usage:    "The program identifier to launch after compiling.",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "compiler",
				Usage: "The compiler command to invoke.",
				Value: "javac",
			},
			&cli.StringFlag{
				Name:  "runner",
				Usage: "The runner command to launch the program with.",
				Value: "java",
			},
		},
		Action: func(ctx *cli.Context) error {
			logger, err := buildLogger(ctx.String("log-level"))
			if err != nil {
				return err
			}
			files := ctx.Args().Slice()
			outDir := ctx.String("out")

			events := make(chan event.Event, 64)
			gateway := compiler.New(events,
				compiler.WithLogger(logger),
				compiler.WithCommand(ctx.String("compiler")),
			)
			sup := supervisor.New(events,
				supervisor.WithLogger(logger),
				supervisor.WithRunner(ctx.String("runner")),
			)
			defer sup.Close()

			runCtx, cancelRun := context.WithCancel(ctx.Context)
			defer cancelRun()
			group, groupCtx := errgroup.WithContext(runCtx)
			exitCode := make(chan int, 1)
			group.Go(func() error {
				defer cancelRun()
				return printEvents(groupCtx, events, exitCode)
			})
			group.Go(func() error {
				return forwardInterrupts(groupCtx, sup.Terminate)
			})
			go forwardStdin(sup.WriteInput)

			err = gateway.Compile(ctx.Context, files, outDir)
			if err != nil {
				return err
			}
			sup.Run(outDir, ctx.String("main"))

			err = group.Wait()
			if err != nil {
				return err
			}
			sup.Close()
			os.Exit(takeExitCode(exitCode))
			return nil
		},
	}
}

func remoteCommand() *cli.Command {
	return &cli.Command{
		Name:      "remote",
		Usage:     "compile and run on a remote agent, streaming events back",
		ArgsUsage: "FILES...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "addr",
				Usage:    "The base URL of the agent.",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "out",
				Usage:    "The output directory on the agent host.",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "main",
				Usage:    "The program identifier to launch after compiling.",
				Required: true,
			},
		},
		Action: func(ctx *cli.Context) error {
			logger, err := buildLogger(ctx.String("log-level"))
			if err != nil {
				return err
			}
			client := &agent.Client{
				URL:    ctx.String("addr"),
				Logger: logger.Sugar(),
			}
			err = client.WaitForServer(ctx.Context)
			if err != nil {
				return err
			}
			sess, err := client.OpenSession(ctx.Context)
			if err != nil {
				return err
			}
			defer sess.Close()

			err = sess.Compile(ctx.Context, ctx.Args().Slice(), ctx.String("out"))
			if err != nil {
				return err
			}
			err = sess.Run(ctx.String("out"), ctx.String("main"))
			if err != nil {
				return err
			}

			runCtx, cancelRun := context.WithCancel(ctx.Context)
			defer cancelRun()
			group, groupCtx := errgroup.WithContext(runCtx)
			exitCode := make(chan int, 1)
			group.Go(func() error {
				defer cancelRun()
				return printEvents(groupCtx, sess.Events(), exitCode)
			})
			group.Go(func() error {
				return forwardInterrupts(groupCtx, func() { _ = sess.Terminate() })
			})
			go forwardStdin(func(text string) { _ = sess.WriteInput(text) })

			err = group.Wait()
			if err != nil {
				return err
			}
			sess.Close()
			os.Exit(takeExitCode(exitCode))
			return nil
		},
	}
}

func takeExitCode(exitCode <-chan int) int {
	select {
	case code := <-exitCode:
		return code
	default:
		return 1
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the session agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on.",
				Value: "0.0.0.0:8080",
			},
			&cli.StringFlag{
				Name:  "compiler",
				Usage: "The compiler command sessions invoke.",
				Value: "javac",
			},
			&cli.StringFlag{
				Name:  "runner",
				Usage: "The runner command sessions launch programs with.",
				Value: "java",
			},
		},
		Action: func(ctx *cli.Context) error {
			logger, err := buildLogger(ctx.String("log-level"))
			if err != nil {
				return err
			}
			server := &agent.Server{
				Log:             logger.Named("agent").Sugar(),
				CompilerCommand: ctx.String("compiler"),
				RunnerCommand:   ctx.String("runner"),
			}
			addr := ctx.String("listen-addr")
			logger.Sugar().Infof("listening on %s", addr)
			return http.ListenAndServe(addr, server.Handler())
		},
	}
}

// exitCodePrefix is the exit summary the supervisor logs; the CLI watches
// for it to know when the supervised program is done.
const exitCodePrefix = "exited with code "

// printEvents writes the event stream to the terminal until the supervised
// program exits, then sends its exit code.
func printEvents(ctx context.Context, events <-chan event.Event, exitCode chan<- int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				exitCode <- 1
				return nil
			}
			switch ev.Kind {
			case event.KindLog:
				text := string(ev.Data)
				fmt.Fprintf(os.Stderr, "[runlet] %s\n", text)
				if strings.HasPrefix(text, exitCodePrefix) {
					code, err := strconv.Atoi(text[len(exitCodePrefix):])
					if err != nil {
						code = 1
					}
					if code < 0 {
						code = 1
					}
					exitCode <- code
					return nil
				}
			case event.KindOutput:
				os.Stdout.Write(ev.Data)
			case event.KindError:
				os.Stderr.Write(ev.Data)
			}
		}
	}
}

// forwardInterrupts turns the first Ctrl-C into a terminate request for the
// supervised program rather than killing the CLI.
func forwardInterrupts(ctx context.Context, terminate func()) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			terminate()
		}
	}
}

// forwardStdin pumps terminal lines into the supervised program. It blocks
// on the terminal read, so it runs as a plain goroutine that dies with the
// process.
func forwardStdin(write func(text string)) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		write(scanner.Text() + "\n")
	}
}
