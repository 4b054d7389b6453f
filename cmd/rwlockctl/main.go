// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command rwlockctl is a small demo/benchmark harness for the rwlock
// package, in the tradition of minio's own server/controller command
// split: one binary, a handful of cli.Command subcommands, flags
// parsed per-command rather than globally.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minio/cli"
	"go.uber.org/zap"

	"github.com/dijkstracula/go-rwlock/rwlock"
	"github.com/dijkstracula/go-rwlock/vacuum"
)

func main() {
	app := cli.NewApp()
	app.Name = "rwlockctl"
	app.Usage = "exercise and benchmark the rwlock package"
	app.Commands = []cli.Command{benchCmd}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var benchCmd = cli.Command{
	Name:  "bench",
	Usage: "run a mixed reader/writer workload against one lock instance",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "readers", Value: 16, Usage: "concurrent reader goroutines"},
		cli.IntFlag{Name: "writers", Value: 4, Usage: "concurrent writer goroutines"},
		cli.DurationFlag{Name: "duration", Value: 5 * time.Second, Usage: "how long to run"},
		cli.StringFlag{Name: "elevate", Value: "fair", Usage: "fair, read, or write"},
		cli.BoolFlag{Name: "vacuum", Usage: "enable the background vacuum scheduler"},
	},
	Action: runBench,
	CustomHelpTemplate: `NAME:
  rwlockctl {{.Name}} - {{.Usage}}

USAGE:
  rwlockctl {{.Name}} [OPTIONS]

OPTIONS:
  {{range .Flags}}{{.}}
  {{end}}
EXAMPLES:
  1. Run the default mixed workload for 5 seconds.
      $ rwlockctl bench

  2. Run a write-elevated workload with the vacuum scheduler on.
      $ rwlockctl bench --elevate write --vacuum
`,
}

func runBench(c *cli.Context) error {
	cfg := rwlock.Config{Logger: zap.NewExample()}
	switch c.String("elevate") {
	case "read":
		cfg.ElevateReadQueue = true
	case "write":
		cfg.ElevateWriteQueue = true
	case "fair":
	default:
		return fmt.Errorf("unknown --elevate value %q", c.String("elevate"))
	}

	o, err := rwlock.New(cfg)
	if err != nil {
		return err
	}
	defer o.Dispose()

	if c.Bool("vacuum") {
		s := vacuum.NewScheduler(o, 100*time.Millisecond, rwlock.SystemClock{}, cfg.Logger)
		s.Start(context.Background())
		defer s.Stop()
	}

	readers := c.Int("readers")
	writers := c.Int("writers")
	duration := c.Duration("duration")

	var reads, writes, timeouts int64
	stop := make(chan struct{})
	var wg sync.WaitGroup

	runReader := func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			ok, err := o.EnterRead(context.Background(), 50*time.Millisecond)
			if err != nil {
				return
			}
			if !ok {
				atomic.AddInt64(&timeouts, 1)
				continue
			}
			time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
			o.ExitRead(1)
			atomic.AddInt64(&reads, 1)
		}
	}

	runWriter := func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			ok, err := o.EnterWrite(context.Background(), 50*time.Millisecond)
			if err != nil {
				return
			}
			if !ok {
				atomic.AddInt64(&timeouts, 1)
				continue
			}
			time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
			o.ExitWrite()
			atomic.AddInt64(&writes, 1)
		}
	}

	wg.Add(readers + writers)
	for i := 0; i < readers; i++ {
		go runReader()
	}
	for i := 0; i < writers; i++ {
		go runWriter()
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()

	fmt.Printf("reads=%d writes=%d timeouts=%d\n", atomic.LoadInt64(&reads), atomic.LoadInt64(&writes), atomic.LoadInt64(&timeouts))
	return nil
}
