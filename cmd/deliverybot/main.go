package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mastercactapus/deliverybot/config"
	"github.com/mastercactapus/deliverybot/coord"
	"github.com/mastercactapus/deliverybot/link"
	"github.com/mastercactapus/deliverybot/machine"
	"github.com/mastercactapus/deliverybot/machine/ak80"
	"github.com/mastercactapus/deliverybot/routine"
	"github.com/mastercactapus/deliverybot/store"
)

// simGripper accepts gripper commands when running without hardware.
type simGripper struct{}

func (simGripper) WriteLine(s string) error { return nil }
func (simGripper) ReadLine(ctx context.Context) (string, bool, error) {
	<-ctx.Done()
	return "", false, ctx.Err()
}

func main() {
	log.SetFlags(log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("ERROR: config: ", err)
	}

	flag.StringVar(&cfg.MotionPort, "motion", cfg.MotionPort, "Serial port of the motion controller.")
	flag.StringVar(&cfg.GripperPort, "gripper", cfg.GripperPort, "Serial port of the gripper controller.")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to bind the HTTP server to.")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Order database file.")
	flag.StringVar(&cfg.RoutineDir, "routines", cfg.RoutineDir, "Directory of routine overrides (*.yaml).")
	flag.BoolVar(&cfg.Sim, "sim", cfg.Sim, "Use a simulated controller instead of serial ports.")
	interactive := flag.Bool("shell", false, "Start an interactive shell.")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var motion *link.Conn
	var gripper machine.Link
	if cfg.Sim {
		sim := ak80.NewSimulator(cfg.Dialect, coord.Point{})
		sim.Step = 25
		defer sim.Close()
		motion = link.NewConn(sim, cfg.ReadTimeout)
		gripper = simGripper{}
		log.Println("Using simulated controller")
	} else {
		motion, err = link.Open(cfg.Motion())
		if err != nil {
			log.Fatal("ERROR: ", err)
		}
		g, err := link.Open(cfg.Gripper())
		if err != nil {
			log.Fatal("ERROR: ", err)
		}
		defer g.Close()
		gripper = g
	}
	defer motion.Close()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal("ERROR: ", err)
	}
	defer db.Close()

	routines, err := routine.Builtin()
	if err != nil {
		log.Fatal("ERROR: builtin routines: ", err)
	}
	if cfg.RoutineDir != "" {
		extra, err := routine.LoadDir(cfg.RoutineDir)
		if err != nil {
			log.Fatal("ERROR: load routines: ", err)
		}
		routines = routine.Merge(routines, extra)
	}

	parser := cfg.Parser()
	positions := machine.NewStore()
	m := machine.NewMachine(cfg.Machine(), motion, gripper, parser, positions)
	runner := routine.NewRunner(m, db, routines, nil)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Polled {
		g.Go(func() error { return machine.NewPoller(motion, parser, positions).Run(ctx) })
	}

	pos, err := m.Initialize(ctx)
	if err != nil {
		log.Println("ERROR: initialize:", err)
	} else {
		log.Println("Starting at", pos)
	}

	a := newAPI(ctx, runner, positions, db)
	defer a.Close()
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
			a.ServeHTTP(w, req)
		}),
	}
	g.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		runner.Abort()
		return srv.Shutdown(sctx)
	})

	if *interactive {
		g.Go(func() error {
			newShell(ctx, m, positions, runner).Run()
			cancel()
			return nil
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, link.ErrClosed) {
		log.Fatal("ERROR: ", err)
	}
}
