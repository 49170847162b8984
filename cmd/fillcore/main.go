// Command fillcore is the firmware core's entrypoint: it wires the four
// periodic tasks, the HTTP command/status port, and the MQTT event sink
// together and runs until SIGINT/SIGTERM.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"go.pumpworks.dev/fillcore/actuator"
	"go.pumpworks.dev/fillcore/api"
	"go.pumpworks.dev/fillcore/autotune"
	"go.pumpworks.dev/fillcore/config"
	"go.pumpworks.dev/fillcore/fill"
	"go.pumpworks.dev/fillcore/internal/sched"
	"go.pumpworks.dev/fillcore/logging"
	"go.pumpworks.dev/fillcore/operator"
	"go.pumpworks.dev/fillcore/paramstore"
	"go.pumpworks.dev/fillcore/safety"
	"go.pumpworks.dev/fillcore/telemetry"
	"go.pumpworks.dev/fillcore/weight"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "fillcore",
		Short: "Pneumatic pump fill-control firmware core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file (defaults applied if omitted)")

	root.AddCommand(runCmd(), autotuneOnlyCmd(), tareCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := &config.Config{}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	return config.Read(configPath)
}

// buildController wires the real collaborators: a serial scale, a bbolt
// parameter store, and an MQTT sink. The DAC write and operator I/O
// primitives stay injected interfaces: a bench run wires the DAC to an
// in-memory actuator.FakeDAC and the operator I/O to the console; a
// board-specific build swaps in its own DACWriter/Display/Input.
func buildController(logger *logging.Logger, cfg *config.Config) (*fill.Controller, *operator.Port, func(), error) {
	port, err := serial.Open(cfg.ScalePort, &serial.Mode{BaudRate: cfg.ScaleBaudRate})
	var lineSource weight.LineSource
	var closer func()
	if err != nil {
		logger.Warnw("scale serial port unavailable, running with an offline weight source", "port", cfg.ScalePort, "err", err)
		lineSource = &offlineLineSource{}
		closer = func() {}
	} else {
		sls := weight.NewSerialLineSource(port, port)
		lineSource = sls
		closer = func() { _ = port.Close() }
	}
	w := weight.New(lineSource)

	dac := &actuator.FakeDAC{}
	act := actuator.New(dac, dac)

	store, err := paramstore.OpenBolt(cfg.ParamStorePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fillcore: open parameter store: %w", err)
	}

	var sink telemetry.Sink
	opts := mqtt.NewClientOptions().AddBroker(cfg.MQTTBrokerURI).SetClientID(cfg.DeviceID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	client := mqtt.NewClient(opts)
	if tok := client.Connect(); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		logger.Warnw("mqtt broker unreachable, events will be dropped", "broker", cfg.MQTTBrokerURI, "err", tok.Error())
		sink = &telemetry.NoopSink{}
	} else {
		sink = telemetry.NewMQTTSink(client, telemetry.Topics{
			Status: cfg.MQTTTopicStatus,
			Fills:  cfg.MQTTTopicFills,
			Events: cfg.MQTTTopicEvents,
		})
	}

	opPort := operator.New(&consoleDisplay{}, newConsoleInput(bufio.NewReader(os.Stdin)))

	ctrl := fill.New(logger, w, act, store, sink, safety.New(), autotune.New(autotune.DefaultConfig()))

	cleanup := func() {
		closer()
		_ = store.Close()
	}
	return ctrl, opPort, cleanup, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the fill controller, HTTP port, and periodic tasks until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.NewLogger("fillcore")
			ctrl, opPort, cleanup, err := buildController(logger, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			clk := clock.New()
			weightTask := sched.Delayed(ctx, clk, 100*time.Millisecond, func(ctx context.Context) {
				ctrl.WeightTick(ctx)
			})
			controlTask := sched.RateMonotonic(ctx, clk, 100*time.Millisecond, func(ctx context.Context) {
				if err := ctrl.ControlTick(ctx, time.Now()); err != nil {
					logger.Warnw("control tick failed", "err", err)
				}
			})
			operatorTask := sched.Delayed(ctx, clk, 200*time.Millisecond, func(ctx context.Context) {
				if err := ctrl.OperatorTick(ctx, opPort, time.Now()); err != nil {
					logger.Warnw("operator tick failed", "err", err)
				}
			})
			telemetryTask := sched.Delayed(ctx, clk, 1*time.Second, func(ctx context.Context) {
				if err := ctrl.TelemetryTick(time.Now()); err != nil {
					logger.Warnw("telemetry tick failed", "err", err)
				}
			})
			defer weightTask.Stop()
			defer controlTask.Stop()
			defer operatorTask.Stop()
			defer telemetryTask.Stop()

			httpServer := api.New(ctrl, logger)
			go func() {
				if err := httpServer.ListenAndServe(cfg.HTTPAddr); err != nil {
					logger.Warnw("http server stopped", "err", err)
				}
			}()

			logger.Infow("fillcore running", "http_addr", cfg.HTTPAddr, "device_id", cfg.DeviceID)
			<-ctx.Done()
			logger.Infow("shutting down")
			return nil
		},
	}
}

func autotuneOnlyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autotune-only",
		Short: "Run weight+control tasks and drive a single auto-tune pass to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.NewLogger("fillcore-autotune")
			ctrl, _, cleanup, err := buildController(logger, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := ctrl.StartAutotune(time.Now()); err != nil {
				return err
			}

			clk := clock.New()
			weightTask := sched.Delayed(ctx, clk, 100*time.Millisecond, func(ctx context.Context) { ctrl.WeightTick(ctx) })
			controlTask := sched.RateMonotonic(ctx, clk, 100*time.Millisecond, func(ctx context.Context) {
				_ = ctrl.ControlTick(ctx, time.Now())
			})
			defer weightTask.Stop()
			defer controlTask.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(500 * time.Millisecond):
					if res, ok := ctrl.AutotuneResult(); ok {
						fmt.Printf("autotune complete: Kp=%.3f Ki=%.3f Kd=%.3f (Ku=%.3f Pu=%.3f)\n",
							res.Gains.Kp, res.Gains.Ki, res.Gains.Kd, res.UltimateGain, res.UltimatePeriod)
						fmt.Print("accept and persist? [y/N] ")
						reader := bufio.NewReader(os.Stdin)
						line, _ := reader.ReadString('\n')
						if line == "y\n" || line == "Y\n" {
							return ctrl.AcceptAutotune()
						}
						return ctrl.RejectAutotune()
					}
					if snap := ctrl.Snapshot(); snap.Mode == fill.ModeError {
						return fmt.Errorf("fillcore: autotune failed: %s", snap.Error)
					}
				}
			}
		},
	}
}

func tareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tare",
		Short: "Zero the scale and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.NewLogger("fillcore-tare")
			ctrl, _, cleanup, err := buildController(logger, cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return ctrl.Tare(context.Background())
		},
	}
}

// offlineLineSource reports every read as unavailable; used when the
// configured scale serial port cannot be opened, so the controller still
// runs (and reports ScaleUnavailable) rather than failing to start.
type offlineLineSource struct{}

func (offlineLineSource) ReadLine(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (offlineLineSource) Tare(ctx context.Context) error {
	return fmt.Errorf("fillcore: scale offline, cannot tare")
}

// consoleDisplay renders the two operator lines to stdout, for bench use
// without a real LCD attached.
type consoleDisplay struct {
	last1, last2 string
}

func (d *consoleDisplay) SetLines(ctx context.Context, line1, line2 string) error {
	if line1 == d.last1 && line2 == d.last2 {
		return nil
	}
	d.last1, d.last2 = line1, line2
	fmt.Printf("[display] %-20s | %-20s\n", line1, line2)
	return nil
}

// consoleInput reads confirm/rotary commands from stdin ("c" confirms
// for one poll, "+"/"-" adjust the target a detent), for bench use
// without real encoder hardware. A background goroutine owns the reader;
// the operator task polls the accumulated state.
type consoleInput struct {
	mu      sync.Mutex
	pending int
	confirm bool
}

func newConsoleInput(in *bufio.Reader) *consoleInput {
	c := &consoleInput{}
	go func() {
		for {
			line, err := in.ReadString('\n')
			if err != nil {
				return
			}
			c.mu.Lock()
			switch strings.TrimSpace(line) {
			case "c":
				c.confirm = true
			case "+":
				c.pending++
			case "-":
				c.pending--
			}
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *consoleInput) ConfirmPressed(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pressed := c.confirm
	c.confirm = false
	return pressed, nil
}

func (c *consoleInput) RotaryDelta(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delta := c.pending
	c.pending = 0
	return delta, nil
}
