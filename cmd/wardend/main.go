// Command wardend hosts one warden daemon process. It is normally
// launched detached by "warden start" and administered over its control
// port; running it in the foreground works the same way.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"warden/internal/daemonrun"
)

func main() {
	var opts daemonrun.Options
	pflag.StringVar(&opts.ConfigPath, "json", "", "path to the daemon JSON config file")
	pflag.StringVar(&opts.Name, "name", "", "daemon name, resolved in the config directory")
	pflag.StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")
	pflag.BoolVar(&opts.IgnoreSignals, "ignore-signals", false, "only the terminate command stops the daemon")
	pflag.Parse()

	code, err := daemonrun.Run(context.Background(), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wardend: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}
