package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"drivetrain-core/drive"
	"drivetrain-core/hardware"
	"drivetrain-core/input"
	"drivetrain-core/robot"
	"drivetrain-core/sim"
	"drivetrain-core/station"
	"drivetrain-core/telemetry"
	"drivetrain-core/transit"
	"drivetrain-core/utils"
)

type RunnerConfig struct {
	Config
	Sim  bool
	Mode station.Mode // initial mode before any console connects
}

// Runner owns the robot and the goroutines that feed it.
type Runner struct {
	cfg RunnerConfig
	log *utils.Logger

	table     *telemetry.Table
	driver    *input.Pad
	operator  *input.Pad
	station   *station.Server
	container *robot.Container

	// exactly one of simDrive or canDrive is set
	simDrive *sim.Drivetrain
	canDrive *hardware.CANDrive
	bus      *utils.SocketCAN

	mode       station.Mode
	auto       string
	hadConsole bool
}

func NewRunner(ctx context.Context, cfg RunnerConfig, log *utils.Logger) (*Runner, error) {
	r := &Runner{
		cfg:      cfg,
		log:      log,
		table:    telemetry.NewTable(),
		driver:   input.NewPad(),
		operator: input.NewPad(),
		mode:     station.ModeDisabled,
	}
	r.station = station.New(r.driver, r.operator, log)

	var (
		hw    drive.Hardware
		motor transit.Motor
	)
	switch {
	case cfg.Sim:
		sc := sim.DefaultConfig()
		sc.Collision = cfg.Collision
		sc.UltrasonicScale = cfg.Robot.Drive.UltrasonicScale
		r.simDrive = sim.NewDrivetrain(sc)
		hw, motor = r.simDrive, &sim.Motor{}
		log.Info("using simulated drivetrain")
	case cfg.CAN.Enable:
		d, m, err := r.openCAN(ctx)
		if err != nil {
			r.Close()
			return nil, err
		}
		hw, motor = d, m
	default:
		return nil, errors.New("no hardware: enable can.enable or pass --sim")
	}

	c, err := robot.NewContainer(cfg.Robot, hw, motor, r.driver, r.operator, r.table, log)
	if err != nil {
		r.Close()
		return nil, err
	}
	if cfg.Auto.Selection != "" {
		if err := c.SelectAutonomous(cfg.Auto.Selection); err != nil {
			r.Close()
			return nil, err
		}
	}
	r.container = c
	return r, nil
}

func (r *Runner) openCAN(ctx context.Context) (*hardware.CANDrive, *hardware.CANMotor, error) {
	cmap, err := utils.LoadCANMap(r.cfg.CAN.Map)
	if err != nil {
		return nil, nil, fmt.Errorf("load can map: %w", err)
	}
	r.bus, err = utils.OpenSocketCAN(ctx, r.cfg.CAN.Iface)
	if err != nil {
		return nil, nil, err
	}
	r.canDrive, err = hardware.NewCANDrive(cmap, r.bus, r.cfg.Collision, r.log)
	if err != nil {
		return nil, nil, err
	}
	motor, err := r.canDrive.Motor("TRANSIT_CMD")
	if err != nil {
		return nil, nil, err
	}
	r.log.Info("CAN on %s with %d frames from %s", r.bus.Iface(), len(cmap.ByID), r.cfg.CAN.Map)
	return r.canDrive, motor, nil
}

func (r *Runner) Close() {
	if r.bus != nil {
		_ = r.bus.Close()
	}
}

// Run blocks until ctx is cancelled or a goroutine fails.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              r.cfg.Station.Listen,
		Handler:           r.mux(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		r.log.Info("station listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("station: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})

	pub := telemetry.NewPublisher(r.table, time.Duration(r.cfg.Station.PublishMS)*time.Millisecond,
		r.station.Publish, func(err error) { r.log.Warn("publish telemetry: %v", err) })
	g.Go(func() error { return ignoreCanceled(pub.Run(ctx)) })

	if r.bus != nil {
		g.Go(func() error {
			r.log.Debug("RX loop started")
			defer r.log.Debug("RX loop stopped")
			return ignoreCanceled(r.bus.Run(ctx, r.canDrive.HandleFrame))
		})
	}

	g.Go(func() error { return ignoreCanceled(r.controlLoop(ctx)) })
	return g.Wait()
}

func (r *Runner) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", r.station)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (r *Runner) controlLoop(ctx context.Context) error {
	period := r.cfg.Loop.Period()
	r.log.Info("control loop: period=%s autonomous=%q", period, r.container.SelectedName())

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	defer r.container.DisabledInit()

	r.applyMode(r.cfg.Mode)
	last := time.Now()
	var overruns uint64
	for {
		select {
		case <-ctx.Done():
			r.logStats()
			return ctx.Err()
		case now := <-ticker.C:
			if r.simDrive != nil {
				r.simDrive.Step(now.Sub(last))
			}
			last = now

			if r.station.ClientCount() > 0 {
				r.hadConsole = true
			}
			r.followConsole(r.station.Requested())

			r.container.Periodic()

			if took := time.Since(now); took > period {
				overruns++
				r.log.Warn("loop overrun: %s (%d total)", took, overruns)
			}
		}
	}
}

// followConsole applies the console's routine choice and mode. The startup
// mode holds until a console takes over; after that the console decides, and
// losing it disables the robot.
func (r *Runner) followConsole(mode station.Mode, auto string) {
	r.selectAuto(auto)
	if r.hadConsole {
		r.applyMode(mode)
		// a mode change may have released the selection lock
		r.selectAuto(auto)
	}
}

// selectAuto remembers a console choice only once it is applied, so a choice
// made while autonomous holds the lock is retried after the lock is released.
func (r *Runner) selectAuto(auto string) {
	if auto == "" || auto == r.auto {
		return
	}
	err := r.container.SelectAutonomous(auto)
	switch {
	case err == nil:
		r.auto = auto
	case errors.Is(err, robot.ErrAutoLocked):
		// retried on a later tick
	default:
		r.auto = auto
		r.log.Warn("console selection %q: %v", auto, err)
	}
}

// applyMode runs the container hook for a mode change.
func (r *Runner) applyMode(m station.Mode) {
	if m == r.mode {
		return
	}
	r.log.Info("mode %s -> %s", r.mode, m)
	r.mode = m
	switch m {
	case station.ModeAutonomous:
		r.container.AutonomousInit()
	case station.ModeTeleop:
		r.container.TeleopInit()
	default:
		r.container.DisabledInit()
	}
}

func (r *Runner) logStats() {
	if r.canDrive != nil {
		sent, failed := r.canDrive.Stats()
		r.log.Info("CAN frames sent=%d failed=%d", sent, failed)
	}
	r.log.Info("scheduler ticks=%d", r.container.Scheduler().Ticks())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
