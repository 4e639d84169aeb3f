// Command nsblastd is the nsblast authoritative DNS server process.
// Grounded on the teacher's main/run.go entrypoint shape (flag parsing,
// build-then-start-then-block-on-signal, explicit exit codes) adapted to
// spec.md §6's own flag set and exit code table.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsblast/nsblast/internal/api"
	"github.com/nsblast/nsblast/internal/config"
	"github.com/nsblast/nsblast/internal/server"
)

const version = "nsblast 0.1.0"

const (
	exitNormal       = 0
	exitConfigError  = -1
	exitHelpShown    = -2
	exitVersionShown = -3
	exitCertError    = -4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("nsblastd", flag.ContinueOnError)
	configPath := fs.String("config", "./nsblast.toml", "path to the TOML configuration file")
	showVersion := fs.Bool("version", false, "print version and exit")
	genCert := fs.Bool("gencert", false, "generate a TLS certificate and exit (not implemented: certificate generation stays an external collaborator)")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage of nsblastd:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitHelpShown
		}
		return exitConfigError
	}

	if *showVersion {
		fmt.Println(version)
		return exitVersionShown
	}

	if *genCert {
		fmt.Fprintln(os.Stderr, "certificate generation is not implemented by this binary")
		return exitCertError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Println("failed to load config:", err)
		return exitConfigError
	}
	if cfg.AdminPassword == "" {
		if err := bootstrapPassword(); err != nil {
			log.Println("failed to bootstrap admin password:", err)
			return exitConfigError
		}
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Println("failed to construct server:", err)
		return exitConfigError
	}
	if err := srv.Start(); err != nil {
		log.Println("failed to start server:", err)
		return exitConfigError
	}
	defer srv.Close()

	adminSvc := api.NewService(srv.Engine, srv.Slave, cfg.Backup.Directory)
	adminSrv := &http.Server{Addr: cfg.Admin.ListenAddress, Handler: newAdminMux(adminSvc)}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Println("admin http server stopped:", err)
		}
	}()
	defer adminSrv.Close()

	log.Println(version, "listening on", cfg.DNS.ListenAddress)

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
	<-osSignals

	log.Println("shutting down")
	return exitNormal
}

// bootstrapPassword writes password.txt once at first boot when
// NSBLAST_ADMIN_PASSWORD is unset (spec.md §6's persisted-state layout).
func bootstrapPassword() error {
	if _, err := os.Stat("password.txt"); err == nil {
		return nil
	}
	return os.WriteFile("password.txt", []byte(randomPassword()+"\n"), 0600)
}
