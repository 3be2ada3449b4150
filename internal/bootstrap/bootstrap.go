// Package bootstrap holds the small process-lifecycle helpers
// cmd/gossipnode wires main() with, grounded on the teacher's own
// mainboilerplate.Must/MustParseArgs convention (examples/word-count/
// wordcountctl/main.go's mbp.Must(err, "...") and mbp.MustParseArgs(parser)
// calls) -- reimplemented locally since go.gazette.dev/core/mainboilerplate
// is a teacher-internal package this module does not depend on.
package bootstrap

import (
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// Must logs message and the error's detail at Fatal level (terminating the
// process) if err is non-nil. It is a no-op otherwise.
func Must(err error, message string) {
	if err != nil {
		log.WithField("error", err).Fatal(message)
	}
}

// MustParseArgs parses os.Args[1:] with parser, exiting 0 on a requested
// --help (flags.ErrHelp) and exiting 2 with a logged error on any other
// parse failure.
func MustParseArgs(parser *flags.Parser) {
	if _, err := parser.Parse(); err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.WithField("error", err).Error("failed to parse arguments")
		os.Exit(2)
	}
}
