// mutolink is a command-line tool for the Muto servo controller
// baseboard: torque control, servo positioning, calibration, and
// battery/IMU telemetry over a serial link.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/openmuto/mutolink/internal/config"
	"github.com/openmuto/mutolink/internal/driver"
	"github.com/openmuto/mutolink/internal/logging"
	"github.com/openmuto/mutolink/internal/monitor"
	"github.com/openmuto/mutolink/internal/transport"
)

func main() {
	app := &cli.App{
		Name:  "mutolink",
		Usage: "control Muto baseboard servos and read telemetry",
		Commands: []*cli.Command{
			torqueCommand(),
			servoCommand(),
			readAngleCommand(),
			calibrateCommand(),
			batteryCommand(),
			imuCommand(),
			monitorCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// linkFlags are shared by every command that talks to the baseboard.
// Unset flags fall back to the config file, which falls back to
// defaults.
func linkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "backend", Usage: "transport backend: usb, pi or demo"},
		&cli.StringFlag{Name: "port", Usage: "serial port path"},
		&cli.IntFlag{Name: "baud", Usage: "baud rate"},
		&cli.IntFlag{Name: "dir-pin", Usage: "direction control GPIO pin (pi backend only)"},
		&cli.StringFlag{Name: "log-level", Usage: "log level (debug, info, warn, error)"},
		&cli.StringFlag{Name: "config", Usage: "config file path", Value: config.DefaultPath},
	}
}

// setup loads the config file, applies flag overrides and builds the
// logger.
func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if c.IsSet("backend") {
		cfg.Link.Backend = c.String("backend")
	}
	if c.IsSet("port") {
		cfg.Link.Port = c.String("port")
	}
	if c.IsSet("baud") {
		cfg.Link.Baud = c.Int("baud")
	}
	if c.IsSet("dir-pin") {
		cfg.Link.DirPin = c.Int("dir-pin")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newTransport(cfg config.LinkConfig, log *zap.Logger) (transport.Transport, error) {
	switch cfg.Backend {
	case "usb", "":
		return transport.NewUSBSerial(transport.USBSerialConfig{
			PortPath: cfg.Port,
			BaudRate: cfg.Baud,
		}, log), nil
	case "pi":
		return transport.NewPiUART(transport.PiUARTConfig{
			PortPath: cfg.Port,
			BaudRate: cfg.Baud,
			DirPin:   cfg.DirPin,
		}, log), nil
	case "demo":
		return transport.NewLoopback(log), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use usb, pi or demo)", cfg.Backend)
	}
}

// withDriver runs fn inside an open driver session; the link is always
// closed on the way out.
func withDriver(c *cli.Context, fn func(*driver.Driver) error) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync()

	tr, err := newTransport(cfg.Link, log)
	if err != nil {
		return err
	}
	d := driver.New(tr, log)
	if err := d.Open(); err != nil {
		return err
	}
	defer d.Close()
	return fn(d)
}

// withSensor mirrors withDriver for telemetry commands.
func withSensor(c *cli.Context, fn func(*driver.Sensor) error) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync()

	tr, err := newTransport(cfg.Link, log)
	if err != nil {
		return err
	}
	s := driver.NewSensor(tr, log)
	if err := s.Open(); err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func torqueCommand() *cli.Command {
	return &cli.Command{
		Name:  "torque",
		Usage: "enable or disable servo torque",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{Name: "on", Usage: "turn torque on"},
			&cli.BoolFlag{Name: "off", Usage: "turn torque off"},
		}, linkFlags()...),
		Action: func(c *cli.Context) error {
			on, off := c.Bool("on"), c.Bool("off")
			if on == off {
				return fmt.Errorf("specify either --on or --off")
			}
			return withDriver(c, func(d *driver.Driver) error {
				if on {
					if err := d.TorqueOn(); err != nil {
						return err
					}
					fmt.Println("Torque ON")
					return nil
				}
				if err := d.TorqueOff(); err != nil {
					return err
				}
				fmt.Println("Torque OFF")
				return nil
			})
		},
	}
}

func servoCommand() *cli.Command {
	return &cli.Command{
		Name:  "servo",
		Usage: "move a servo to a position",
		Flags: append([]cli.Flag{
			&cli.IntFlag{Name: "id", Usage: "servo ID (1-18)", Required: true},
			&cli.IntFlag{Name: "angle", Usage: "target angle (0-180)", Required: true},
			&cli.IntFlag{Name: "speed", Usage: "movement speed (0-65535)", Required: true},
		}, linkFlags()...),
		Action: func(c *cli.Context) error {
			id, angle, speed := c.Int("id"), c.Int("angle"), c.Int("speed")
			return withDriver(c, func(d *driver.Driver) error {
				if err := d.ServoMove(id, angle, speed); err != nil {
					return err
				}
				fmt.Printf("Servo %d -> %d° @ speed %d\n", id, angle, speed)
				return nil
			})
		},
	}
}

func readAngleCommand() *cli.Command {
	return &cli.Command{
		Name:  "read-angle",
		Usage: "read the current angle of a servo",
		Flags: append([]cli.Flag{
			&cli.IntFlag{Name: "id", Usage: "servo ID (1-18)", Required: true},
		}, linkFlags()...),
		Action: func(c *cli.Context) error {
			id := c.Int("id")
			return withDriver(c, func(d *driver.Driver) error {
				resp, err := d.ReadServoAngle(id)
				if err != nil {
					return err
				}
				fmt.Printf("Servo %d angle data: % X\n", id, resp)
				return nil
			})
		},
	}
}

func calibrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "calibrate",
		Usage: "calibrate servo position deviation",
		Flags: append([]cli.Flag{
			&cli.IntFlag{Name: "id", Usage: "servo ID (1-18)", Required: true},
			&cli.IntFlag{Name: "deviation", Usage: "calibration deviation (0-65535)", Required: true},
		}, linkFlags()...),
		Action: func(c *cli.Context) error {
			id, dev := c.Int("id"), c.Int("deviation")
			return withDriver(c, func(d *driver.Driver) error {
				if err := d.CalibrateServo(id, dev); err != nil {
					return err
				}
				fmt.Printf("Servo %d calibrated with deviation %d\n", id, dev)
				return nil
			})
		},
	}
}

func batteryCommand() *cli.Command {
	return &cli.Command{
		Name:  "battery",
		Usage: "read the baseboard battery level",
		Flags: linkFlags(),
		Action: func(c *cli.Context) error {
			return withDriver(c, func(d *driver.Driver) error {
				resp, err := d.ReadBatteryLevel()
				if err != nil {
					return err
				}
				if len(resp) == 1 {
					fmt.Printf("Battery level: %d%%\n", resp[0])
				} else {
					fmt.Printf("Battery level data: % X\n", resp)
				}
				return nil
			})
		},
	}
}

func imuCommand() *cli.Command {
	return &cli.Command{
		Name:  "imu",
		Usage: "read IMU telemetry",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{Name: "raw", Usage: "read the raw 9-axis values instead of fused angles"},
		}, linkFlags()...),
		Action: func(c *cli.Context) error {
			raw := c.Bool("raw")
			return withSensor(c, func(s *driver.Sensor) error {
				if raw {
					data, err := s.RawIMU()
					if err != nil {
						return err
					}
					fmt.Printf("Accel:  x=%d y=%d z=%d\n", data.AccelX, data.AccelY, data.AccelZ)
					fmt.Printf("Gyro:   x=%d y=%d z=%d\n", data.GyroX, data.GyroY, data.GyroZ)
					fmt.Printf("Mag:    x=%d y=%d z=%d\n", data.MagX, data.MagY, data.MagZ)
					return nil
				}
				angle, err := s.IMUAngle()
				if err != nil {
					return err
				}
				fmt.Printf("Roll: %d  Pitch: %d  Yaw: %d  Temp: %d\n",
					angle.Roll, angle.Pitch, angle.Yaw, angle.Temperature)
				return nil
			})
		},
	}
}

func monitorCommand() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "serve live telemetry over WebSocket",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "listen address (e.g. :8080)"},
			&cli.IntFlag{Name: "poll-hz", Usage: "telemetry poll rate"},
		}, linkFlags()...),
		Action: func(c *cli.Context) error {
			cfg, log, err := setup(c)
			if err != nil {
				return err
			}
			defer log.Sync()
			if c.IsSet("listen") {
				cfg.Monitor.ListenAddr = c.String("listen")
			}
			if c.IsSet("poll-hz") {
				cfg.Monitor.PollHz = c.Int("poll-hz")
			}

			tr, err := newTransport(cfg.Link, log)
			if err != nil {
				return err
			}
			s := driver.NewSensor(tr, log)
			if err := s.Open(); err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				log.Info("shutting down", zap.String("signal", sig.String()))
				cancel()
			}()

			return monitor.New(cfg.Monitor, s, log).Run(ctx)
		},
	}
}
