package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kinvo/easyinventory/authsession"
	"github.com/kinvo/easyinventory/gateway"
	"github.com/kinvo/easyinventory/gateway/clover"
	"github.com/kinvo/easyinventory/gateway/eposnow"
	"github.com/kinvo/easyinventory/internal/config"
	"github.com/kinvo/easyinventory/server"
	"github.com/kinvo/easyinventory/vault"
	"github.com/kinvo/easyinventory/vault/storage/sqlitestore"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(log zerolog.Logger) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.Errorf("panic recovered: %v", r)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "[run] load configuration")
	}
	displayAppname("EasyInventory")

	ctx := context.Background()
	v, err := openVault(ctx, cfg)
	if err != nil {
		return err
	}

	sessions, err := authsession.New(cfg, v, systemBrowser())
	if err != nil {
		return errors.Wrap(err, "[run] create session manager")
	}

	creds := gateway.NewCredentialSource(v)
	clients := []gateway.Client{
		clover.New(cfg, creds, clover.WithLogger(log)),
		eposnow.New(cfg, creds, eposnow.WithLogger(log)),
	}
	router, err := gateway.NewRouter(cfg, v, sessions, clients, gateway.WithRouterLogger(log))
	if err != nil {
		return errors.Wrap(err, "[run] create gateway router")
	}

	httpServer := &http.Server{
		Addr:    "127.0.0.1:" + cfg.Port,
		Handler: server.New(cfg, sessions, router, log),
	}
	go listenAndServe(httpServer, log)
	waitForStopSignal()
	return shutdown(httpServer)
}

func openVault(ctx context.Context, cfg *config.Config) (*vault.Vault, error) {
	masterKey, err := cfg.MasterKey()
	if err != nil {
		return nil, errors.Wrap(err, "[openVault] master key")
	}
	store, err := sqlitestore.Open(cfg.VaultPath)
	if err != nil {
		return nil, errors.Wrap(err, "[openVault] open vault store")
	}
	v, err := vault.New(ctx, store, vault.NewStaticKeystore(masterKey))
	return v, errors.Wrap(err, "[openVault] open vault")
}

// systemBrowser opens the authorization URL with the platform's default
// browser so the login happens in the user's own session.
func systemBrowser() authsession.Browser {
	return authsession.BrowserFunc(func(ctx context.Context, url string) error {
		var cmd *exec.Cmd
		switch runtime.GOOS {
		case "darwin":
			cmd = exec.CommandContext(ctx, "open", url)
		case "windows":
			cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
		default:
			cmd = exec.CommandContext(ctx, "xdg-open", url)
		}
		return errors.Wrap(cmd.Start(), "[systemBrowser] launch browser")
	})
}

func listenAndServe(httpServer *http.Server, log zerolog.Logger) {
	log.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("listen and serve")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Wrap(httpServer.Shutdown(ctx), "[shutdown] http server")
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
