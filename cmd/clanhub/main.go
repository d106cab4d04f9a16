package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/five82/clanhub/internal/app"
)

const envPassword = "CLANHUB_PASSWORD"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "override config path (optional)")
	prefsPath := flag.String("prefs", "", "override prefs path (optional)")
	email := flag.String("email", "", "sign in with this email when no session is stored; password is read from "+envPassword)
	logout := flag.Bool("logout", false, "sign out and remove the stored session")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{
		ConfigPath: *configPath,
		PrefsPath:  *prefsPath,
		Email:      *email,
		Password:   os.Getenv(envPassword),
		Logout:     *logout,
	}

	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "clanhub: %v\n", err)
		return 1
	}
	return 0
}
