// Command polectl drives a CAN pole array from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/buendiya/NicanPython/config"
	"github.com/buendiya/NicanPython/poles"
)

const usage = `usage: polectl [flags] <command> [args]

flags (must come before the command):
  -config <file>  config file (default $POLECTL_CONFIG or polectl.yaml)
  -v              log frames to stderr
  -force          commit the poles that answered when a transfer times out
  -all            send every pole of the first posture, not just the changed ones

commands:
  set <pole> <length>        command a pole to a length in mm
  reset <pole>               reset a pole
  change-id <pole> <new-id>  assign a new bus ID
  max <pole> <length>        store a pole's maximum extension
  status <pole> <field>      read LENGTH, ID or MAX
  transfer <model>...        move the poles through the named postures
  snapshot <name>            read every pole's length into a new posture
  list                       list the postures in the models file
  sort                       sort the models file by posture name
  tui                        pick postures interactively
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "polectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("polectl", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	configPath := fs.String("config", "", "config file (default $POLECTL_CONFIG or "+config.DefaultFile+")")
	verbose := fs.Bool("v", false, "log frames to stderr")
	force := fs.Bool("force", false, "commit the poles that answered when a transfer times out")
	all := fs.Bool("all", false, "send every pole of the first posture")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *verbose {
		cfg.Log.Verbose = true
	}
	if *force {
		cfg.Transfer.Force = true
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]

	// Commands that only touch the models file
	switch cmd {
	case "list":
		return listModels(cfg)
	case "sort":
		return sortModels(cfg)
	}

	logger, logCloser := newLogger(cfg.Log)
	defer logCloser.Close()

	ctrl, err := openController(cfg, logger)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := poles.TransferOptions{
		Block:    cfg.Transfer.Block,
		Timeout:  cfg.Transfer.Timeout,
		Force:    cfg.Transfer.Force,
		Interval: cfg.Transfer.Interval,
	}

	switch cmd {
	case "set":
		pole, length, err := twoInts(rest)
		if err != nil {
			return err
		}
		return ctrl.SetPoleLength(pole, length)

	case "reset":
		pole, err := oneInt(rest)
		if err != nil {
			return err
		}
		return ctrl.ResetPole(pole)

	case "change-id":
		pole, newID, err := twoInts(rest)
		if err != nil {
			return err
		}
		return ctrl.ChangePoleID(pole, newID)

	case "max":
		pole, length, err := twoInts(rest)
		if err != nil {
			return err
		}
		return ctrl.SetPoleMaxLength(pole, length)

	case "status":
		if len(rest) != 2 {
			return errors.New("status needs <pole> <field>")
		}
		pole, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid pole %q", rest[0])
		}
		v, err := ctrl.Pole(pole).Status(ctx, rest[1], cfg.Transfer.Timeout)
		if err != nil {
			return err
		}
		fmt.Printf("pole %d %s: %d\n", pole, strings.ToUpper(rest[1]), v)
		return nil

	case "transfer":
		if len(rest) == 0 {
			return errors.New("transfer needs at least one posture name")
		}
		models, err := poles.LoadModelsFile(cfg.Models.File)
		if err != nil {
			return err
		}
		for i, name := range rest {
			m, ok := models.Get(name)
			if !ok {
				return fmt.Errorf("no posture named %q in %s", name, cfg.Models.File)
			}
			o := opts
			o.IgnorePrevious = *all && i == 0
			if err := transfer(ctx, ctrl, m, o); err != nil {
				return err
			}
		}
		return nil

	case "snapshot":
		if len(rest) != 1 {
			return errors.New("snapshot needs a posture name")
		}
		if cfg.Poles.Count == 0 {
			return errors.New("snapshot needs poles.count in the config")
		}
		if err := poles.ValidateName(rest[0]); err != nil {
			return err
		}
		m, err := poles.NewPoleGroupRange(ctrl, cfg.Poles.Count).Snapshot(ctx, rest[0], cfg.Transfer.Timeout)
		if err != nil {
			return err
		}
		models, err := poles.LoadModelsFile(cfg.Models.File)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			models = poles.NewBodyModels()
		}
		if err := models.Add(m); err != nil {
			return err
		}
		ctrl.SetCurrent(m)
		fmt.Println(m)
		return poles.SaveModelsFile(cfg.Models.File, models, true)

	case "tui":
		models, err := poles.LoadModelsFile(cfg.Models.File)
		if err != nil {
			return err
		}
		return runTUI(ctx, ctrl, models, opts)

	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func openController(cfg *config.Config, logger *log.Logger) (*poles.Controller, error) {
	var proxy *poles.ProxyTable
	if len(cfg.Poles.Proxy) > 0 {
		var err error
		proxy, err = poles.NewProxyTable(cfg.Poles.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy table: %w", err)
		}
	}

	var limits poles.PoleLimits
	if cfg.Poles.LimitsFile != "" {
		var err error
		limits, err = poles.LoadLimits(cfg.Poles.LimitsFile)
		if err != nil {
			return nil, err
		}
	} else if cfg.Poles.Count > 0 {
		limits = poles.UniformLimits(cfg.Poles.Count, poles.DefaultMinLength, poles.DefaultMaxLength)
	}

	return poles.NewController(poles.ControllerConfig{
		Port:         cfg.Bus.Port,
		BaudRate:     cfg.Bus.BaudRate,
		Bitrate:      cfg.Bus.Bitrate,
		Proxy:        proxy,
		Limits:       limits,
		PollInterval: cfg.Transfer.PollInterval,
		Logger:       logger,
	})
}

func transfer(ctx context.Context, ctrl *poles.Controller, m *poles.BodyModel, opts poles.TransferOptions) error {
	result, err := ctrl.TransferToModel(ctx, m, opts)
	if err != nil {
		if missing, ok := poles.Outstanding(err); ok {
			return fmt.Errorf("transfer to %s failed, no response from poles %v: %w", m.Name, missing, err)
		}
		return fmt.Errorf("transfer to %s failed: %w", m.Name, err)
	}

	switch {
	case result.Partial():
		fmt.Printf("%s: %s, no response from poles %v\n", m.Name, result.State, result.Outstanding)
	default:
		fmt.Printf("%s: %s (%d poles)\n", m.Name, result.State, result.Delta.Len())
	}
	return nil
}

func listModels(cfg *config.Config) error {
	models, err := poles.LoadModelsFile(cfg.Models.File)
	if err != nil {
		return err
	}
	for _, m := range models.Models() {
		fmt.Printf("%-12s %v\n", m.Name, m.Lengths())
	}
	return nil
}

func sortModels(cfg *config.Config) error {
	models, err := poles.LoadModelsFile(cfg.Models.File)
	if err != nil {
		return err
	}
	models.AutoSort()
	return poles.SaveModelsFile(cfg.Models.File, models, true)
}

func oneInt(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one numeric argument")
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", args[0])
	}
	return v, nil
}

func twoInts(args []string) (int, int, error) {
	if len(args) != 2 {
		return 0, 0, errors.New("expected two numeric arguments")
	}
	a, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number %q", args[0])
	}
	b, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number %q", args[1])
	}
	return a, b, nil
}
