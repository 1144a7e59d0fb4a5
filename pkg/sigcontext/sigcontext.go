// Package sigcontext ties the agent's lifetime to process signals.
package sigcontext

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
)

// WithSignalCancel returns a context cancelled once one of sigs is received.
// The returned cancel releases the signal handler and must be called; after
// it is called a repeated signal is handled by the go runtime again (ie: a
// second ^C terminates the process).
func WithSignalCancel(ctx context.Context, log logging.Logger, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	sigctx, ctxcancel := context.WithCancel(ctx)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, sigs...)

	var once sync.Once
	cancel := func() {
		ctxcancel()
		once.Do(func() {
			signal.Stop(sigchan)
		})
	}

	go func() {
		select {
		case <-sigctx.Done():
		case sig := <-sigchan:
			log.WithField("signal", sig.String()).Info("received signal, stopping")
			ctxcancel()
		}
	}()

	return sigctx, cancel
}
