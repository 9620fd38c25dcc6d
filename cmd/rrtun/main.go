// main.go -- main() for rrtun
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	flag "github.com/spf13/pflag"

	L "github.com/opencoff/go-logger"

	"github.com/jamiepg4/stegotorus/internal/config"
)

// Filled in by the build.
var RepoVersion string = "UNDEFINED"
var Buildtime string = "UNDEFINED"
var ProductVersion string = "UNDEFINED"

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())
	syscall.Umask(0077)

	debugFlag := flag.BoolP("debug", "d", false, "Run in debug mode")
	verFlag := flag.BoolP("version", "v", false, "Show version info and quit")

	usage := fmt.Sprintf("%s [options] config-file", os.Args[0])
	flag.Usage = func() {
		fmt.Printf("rrtun - roundrobin circuit-multiplexing tunnel\nUsage: %s\n", usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *verFlag {
		fmt.Printf("rrtun - %s [%s; %s]\n", ProductVersion, RepoVersion, Buildtime)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) < 1 {
		die("no config file!\nUsage: %s", usage)
	}

	cfgfile := args[0]
	cfg, err := config.ReadYAML(cfgfile)
	if err != nil {
		die("can't read config file %s: %s", cfgfile, err)
	}

	prio, ok := L.ToPriority(cfg.LogLevel)
	if !ok {
		die("invalid log-level %s", cfg.LogLevel)
	}

	const logflags int = L.Ldate | L.Ltime | L.Lshortfile | L.Lmicroseconds
	logf := cfg.Logging
	if *debugFlag {
		prio = L.LOG_DEBUG
		logf = "STDOUT"
	}

	log, err := L.NewLogger(logf, prio, "rrtun", logflags)
	if err != nil {
		die("can't create logger: %s", err)
	}

	if err := log.EnableRotation(00, 01, 00, 7); err != nil {
		warn("can't enable log rotation: %s", err)
	}

	log.Info("rrtun - %s [%s - built on %s] starting up (logging at %s)...",
		ProductVersion, RepoVersion, Buildtime, log.Prio())

	cfg.Dump(log)
	if *debugFlag {
		cfg.Dump(os.Stdout)
	}

	if len(cfg.Listen) == 0 {
		die("%s: no listeners in config file", cfgfile)
	}

	var procs []proxy
	for _, lc := range cfg.Listen {
		llog := log.New(lc.Addr, 0)
		switch lc.Role {
		case config.RoleServer:
			procs = append(procs, newServerProxy(cfg, lc, llog))
		default:
			procs = append(procs, newClientProxy(lc, llog))
		}
	}

	for _, p := range procs {
		p.Start()
	}

	sigchan := make(chan os.Signal, 4)
	signal.Notify(sigchan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	signal.Ignore(syscall.SIGPIPE, syscall.SIGFPE)

	s := <-sigchan
	log.Info("caught signal %s; terminating ..", s)

	for _, p := range procs {
		p.Stop()
	}

	log.Info("shutdown complete!")
	log.Close()
}
