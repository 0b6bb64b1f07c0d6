package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"golang.org/x/term"

	"github.com/kmzbrnoi/ac-go/ac"
	"github.com/kmzbrnoi/ac-go/ac/dance"
)

const AcCtlVersion = "0.1.0"

func main() {
	usage := fmt.Sprintf(
		`AC control.

Runs an automatic controller against a panel server.

The defaults are:
    server: %s
    port: %d
    pt_port: %d
    app_name: %s

Usage:
    acctl run [options] <ac-id> [<password>]
    acctl dance [options] <ac-id> <steps-file> [<password>]
    acctl blocks [options] [--state]

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    -s <server>                    Panel server address.
    -p <port>                      Panel server port.
    --pt_port=<pt_port>            PT port.
    --app_name=<app_name>          Name sent in the handshake.
    --config=<config>              YAML config file. Options override the file.
    -l <loglevel>                  debug, info, warning or error [default: info].
    --status_port=<status_port>    Serve the client status as JSON on this port.
    --state                        Include the block state.`,
		DefaultServer,
		ac.DefaultPanelPort,
		ac.DefaultPtPort,
		DefaultAppName,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], AcCtlVersion)
	if err != nil {
		panic(err)
	}

	loglevel, _ := opts.String("-l")
	if err := initGlog(loglevel); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(2)
	}

	config, err := ParseConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	if run_, _ := opts.Bool("run"); run_ {
		run(ctx, opts, config)
	} else if dance_, _ := opts.Bool("dance"); dance_ {
		danceAC(ctx, opts, config)
	} else if blocks_, _ := opts.Bool("blocks"); blocks_ {
		listBlocks(ctx, opts, config)
	}
}

// glog always logs to stderr. `debug` enables the per-frame traces.
func initGlog(loglevel string) error {
	flag.CommandLine.Parse([]string{})
	flag.Set("logtostderr", "true")
	switch loglevel {
	case "debug":
		flag.Set("stderrthreshold", "INFO")
		flag.Set("v", "2")
	case "info":
		flag.Set("stderrthreshold", "INFO")
		flag.Set("v", "0")
	case "warning":
		flag.Set("stderrthreshold", "WARNING")
		flag.Set("v", "0")
	case "error":
		flag.Set("stderrthreshold", "ERROR")
		flag.Set("v", "0")
	default:
		return fmt.Errorf("Unknown loglevel %q.", loglevel)
	}
	return nil
}

func newClient(config *Config) *ac.PanelClient {
	settings := ac.DefaultPanelClientSettings()
	settings.AppName = config.AppName

	ptSettings := ac.DefaultPtClientSettings(config.Server)
	ptSettings.BaseUrl = fmt.Sprintf("http://%s", net.JoinHostPort(config.Server, strconv.Itoa(config.PtPort)))

	return ac.NewPanelClient(
		net.JoinHostPort(config.Server, strconv.Itoa(config.Port)),
		ac.NewPtClient(ptSettings),
		settings,
	)
}

// the password from the options, then the config, then the terminal
func acPassword(opts docopt.Opts, config *Config, acId string) string {
	if password, err := opts.String("<password>"); err == nil {
		return password
	}
	if password, ok := config.Password(acId); ok {
		return password
	}

	fmt.Printf("Enter password for %s: ", acId)
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		panic(err)
	}
	fmt.Printf("\n")
	return string(passwordBytes)
}

func run(ctx context.Context, opts docopt.Opts, config *Config) {
	acId, _ := opts.String("<ac-id>")
	password := acPassword(opts, config, acId)

	client := newClient(config)
	acn := client.ACs().GetOrCreate(acId)
	acn.SetPassword(password)

	acn.AddStartCallback(func(acn *ac.AC) {
		glog.Infof("[acctl]%s start\n", acn.Id())
	})
	acn.AddResumeCallback(func(acn *ac.AC) {
		acn.SetColor(ac.HighlightColor)
		glog.Infof("[acctl]%s resume\n", acn.Id())
	})
	acn.AddPauseCallback(func(acn *ac.AC) {
		glog.Infof("[acctl]%s pause\n", acn.Id())
	})
	acn.AddStopCallback(func(acn *ac.AC) {
		glog.Infof("[acctl]%s stop\n", acn.Id())
	})

	runClient(ctx, client, config)
}

func danceAC(ctx context.Context, opts docopt.Opts, config *Config) {
	acId, _ := opts.String("<ac-id>")
	stepsPath, _ := opts.String("<steps-file>")

	steps, err := dance.LoadSteps(stepsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", stepsPath, err)
		os.Exit(2)
	}
	password := acPassword(opts, config, acId)

	client := newClient(config)
	client.ACs().GetOrCreate(acId).SetPassword(password)
	dancer := dance.NewDancerWithDefaults(ctx, client, acId, steps)
	defer dancer.Close()

	runClient(ctx, client, config)
}

func listBlocks(ctx context.Context, opts docopt.Opts, config *Config) {
	state, _ := opts.Bool("--state")

	client := newClient(config)
	blocks, err := client.Blocks().List(ctx, state)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	blockIds := []string{}
	for blockId := range blocks {
		blockIds = append(blockIds, blockId)
	}
	sort.Strings(blockIds)

	encoder := json.NewEncoder(os.Stdout)
	for _, blockId := range blockIds {
		if err := encoder.Encode(blocks[blockId]); err != nil {
			panic(err)
		}
	}
}

// runs the client, and the status server when a status port is set, until a signal
func runClient(ctx context.Context, client *ac.PanelClient, config *Config) {
	if 0 < config.StatusPort {
		statusServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", config.StatusPort),
			Handler: NewStatus(client),
		}
		fmt.Printf("Status %s on *:%d\n", AcCtlVersion, config.StatusPort)

		go func() {
			err := statusServer.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				glog.Errorf("[acctl]status error = %s\n", err)
			}
		}()
		defer statusServer.Shutdown(context.Background())
	}

	client.Run(ctx)
	glog.Infof("[acctl]exit\n")
}
