package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/CodedInternet/gopigeon/comms"
	"github.com/CodedInternet/gopigeon/onboard"
	"github.com/CodedInternet/gopigeon/onboard/capture"
	"github.com/CodedInternet/gopigeon/onboard/pigeon"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type EnvConfig struct {
	CONFIG     string `env:"PIGEON_CONFIG" envDefault:"./pigeon.yaml"`
	DEBUG      bool   `env:"DEBUG" envDefault:"false"`
	LISTEN     string `env:"PIGEON_LISTEN" envDefault:"0.0.0.0:8080"`
	CAPTURE_DB string `env:"PIGEON_CAPTURE_DB" envDefault:"./tmp/capture.db"`
	SIM        bool   `env:"PIGEON_SIM" envDefault:"false"`
}

var (
	ENV = new(EnvConfig)

	log = logrus.StandardLogger()
)

var rootCmd = &cobra.Command{
	Use:   "gopigeon",
	Short: "Pigeon IMU driver, shell and HTTP API",
	Long: `gopigeon talks to CTRE Pigeon IMUs over CAN, either directly on a SocketCAN or
SLCAN bus or ribbon-cabled through a Talon SRX.

The config file is taken from, in order:
1. the --config flag
2. the PIGEON_CONFIG environment variable
3. ./pigeon.yaml
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if ENV.DEBUG {
			log.SetLevel(logrus.DebugLevel)
		}
	},
	RunE: serve,
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "serve the HTTP API and the development shell",
	Example: `  gopigeon serve --sim --listen 127.0.0.1:8080`,
	RunE:    serve,
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "run the development shell only",
	RunE: func(cmd *cobra.Command, args []string) error {
		ob, err := startOnboard()
		if err != nil {
			return err
		}
		defer ob.Close()

		NewShell(ob).Run()
		return nil
	},
}

var recordCmd = &cobra.Command{
	Use:     "record <bus> <seconds>",
	Short:   "record every frame on a bus into the capture database",
	Example: `  gopigeon record can0 30`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.Atoi(args[1])
		if err != nil || seconds <= 0 {
			return fmt.Errorf("invalid duration %s", args[1])
		}

		ob, err := startOnboard()
		if err != nil {
			return err
		}
		defer ob.Close()

		bus, ok := ob.Bus(args[0])
		if !ok {
			return fmt.Errorf("no such bus %s", args[0])
		}

		db, err := openCaptureDb()
		if err != nil {
			return err
		}
		defer db.Close()

		recorder, err := capture.NewRecorder(db, bus, args[0], nil)
		if err != nil {
			return err
		}
		time.Sleep(time.Duration(seconds) * time.Second)

		session, err := recorder.Stop()
		if err != nil {
			return err
		}
		fmt.Printf("session %d: %d frames (%d dropped)\n", session.ID, session.Frames, session.Dropped)
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "list the recorded sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCaptureDb()
		if err != nil {
			return err
		}
		defer db.Close()

		sessions, err := capture.Sessions(db)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Printf("%d\t%s\t%s\t%s\t%d frames\n", s.ID, s.Bus, s.Started.Format(time.RFC3339), s.Stopped.Sub(s.Started), s.Frames)
		}
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:     "replay <session> <bus>",
	Short:   "send a recorded session onto a bus with its original timing",
	Example: `  gopigeon replay 3 sim --sim`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid session %s", args[0])
		}

		ob, err := startOnboard()
		if err != nil {
			return err
		}
		defer ob.Close()

		bus, ok := ob.Bus(args[1])
		if !ok {
			return fmt.Errorf("no such bus %s", args[1])
		}

		db, err := openCaptureDb()
		if err != nil {
			return err
		}
		defer db.Close()

		sent, err := capture.Replay(cmd.Context(), db, id, bus, nil)
		fmt.Printf("replayed %d frames\n", sent)
		return err
	},
}

func init() {
	// environment first so flags can override it
	if err := env.Parse(ENV); err != nil {
		log.WithError(err).Fatal("unable to parse environment")
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ENV.CONFIG, "config", ENV.CONFIG, "configuration file")
	flags.BoolVar(&ENV.SIM, "sim", ENV.SIM, "run against a simulated pigeon instead of the config")
	flags.BoolVar(&ENV.DEBUG, "debug", ENV.DEBUG, "toggle debug logging")
	flags.StringVar(&ENV.CAPTURE_DB, "capture-db", ENV.CAPTURE_DB, "capture database")

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&ENV.LISTEN, "listen", ENV.LISTEN, "ip:port to listen on")
	}

	rootCmd.AddCommand(serveCmd, shellCmd, recordCmd, sessionsCmd, replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (onboard.Config, error) {
	if ENV.SIM {
		log.Info("running against a simulated pigeon")
		return onboard.SimConfig(), nil
	}

	filename, err := filepath.Abs(ENV.CONFIG)
	if err != nil {
		return onboard.Config{}, err
	}
	return onboard.LoadConfig(filename)
}

// startOnboard opens the configured buses and pigeons and applies their settings. A
// failed configuration step is logged, the pigeons stay usable.
func startOnboard() (*onboard.Onboard, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("unable to load config: %v", err)
	}

	ob, err := onboard.NewOnboard(config, onboard.WithOnboardLogger(log))
	if err != nil {
		return nil, err
	}

	ob.Start()
	if err := ob.Configure(); err != nil {
		log.WithError(err).Warn("configuration incomplete")
	}

	return ob, nil
}

func openCaptureDb() (*storm.DB, error) {
	dbFile, err := filepath.Abs(ENV.CAPTURE_DB)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(dbFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		os.MkdirAll(dir, 0755)
	}
	return capture.Open(dbFile)
}

func conductorFor(ob *onboard.Onboard) *comms.Conductor {
	pigeons := make(map[string]comms.Pigeon, len(ob.Pigeons))
	for name, device := range ob.Pigeons {
		pigeons[name] = device
	}
	return comms.NewConductor(pigeons, onboard.DEFAULT_PARAM_TIMEOUT_MS)
}

func firmwareString(firmVers int) string {
	v, err := pigeon.FirmwareVersion(firmVers)
	if err != nil {
		return fmt.Sprintf("0x%04X", firmVers)
	}
	return v.String()
}

func serve(cmd *cobra.Command, args []string) error {
	ob, err := startOnboard()
	if err != nil {
		return err
	}
	defer ob.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conductor := conductorFor(ob)
	go conductor.UpdateClients(ctx)

	shell := NewShell(ob)
	go shell.Start()

	log.WithField("listen", ENV.LISTEN).Info("listening")
	return http.ListenAndServe(ENV.LISTEN, NewRouter(ob, conductor))
}
