package main

import (
	"github.com/spf13/pflag"

	"github.com/ngalo-coder/simclient/internal/config"
)

// options are command-line overrides on top of the SIM_* environment.
type options struct {
	Path      string
	Case      string
	Session   string
	Token     string
	APIURL    string
	Transport string
	ReturnTo  string
	Tag       string
	Verbose   bool
	NoColor   bool
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	flags := pflag.NewFlagSet("simclient", pflag.ContinueOnError)
	flags.StringVar(&opts.Path, "path", "", "Session address to open, e.g. /session-root/CASE-1")
	flags.StringVar(&opts.Case, "case", "", "Case ID to start")
	flags.StringVar(&opts.Session, "session", "", "Session ID to resume (requires --case)")
	flags.StringVar(&opts.Token, "token", "", "Bearer token to store before starting")
	flags.StringVar(&opts.APIURL, "url", "", "Simulation service URL (or SIM_API_URL)")
	flags.StringVar(&opts.Transport, "transport", "", "Exchange transport: sse or websocket (or SIM_STREAM_TRANSPORT)")
	flags.StringVar(&opts.ReturnTo, "return-to", "", "Where to go back to when the case is missing")
	flags.StringVar(&opts.Tag, "tag", "", "Case list category the operator came from")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&opts.NoColor, "no-color", false, "Disable ANSI colors")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// apply folds flag overrides into cfg.
func (o *options) apply(cfg *config.Config) error {
	if o.APIURL != "" {
		cfg.APIURL = o.APIURL
	}
	if o.Transport != "" {
		cfg.Transport = o.Transport
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg.Validate()
}
