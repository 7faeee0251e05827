package util

import (
	"fmt"
	"os"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stellar/go/support/log"
)

//nolint:gochecknoglobals
var (
	UnrecoverablePanicGroup = panicGroup{
		logPanicsToStdErr:  true,
		exitProcessOnPanic: true,
	}
	RecoverablePanicGroup = panicGroup{
		logPanicsToStdErr: true,
	}
)

type panicGroup struct {
	log                *log.Entry
	logPanicsToStdErr  bool
	exitProcessOnPanic bool
	panicsCounter      prometheus.Counter
}

// Log returns a copy of the group which reports panics to the given logger.
func (pg *panicGroup) Log(log *log.Entry) *panicGroup {
	return &panicGroup{
		log:                log,
		logPanicsToStdErr:  pg.logPanicsToStdErr,
		exitProcessOnPanic: pg.exitProcessOnPanic,
		panicsCounter:      pg.panicsCounter,
	}
}

// Counter returns a copy of the group which increments counter on every panic.
func (pg *panicGroup) Counter(counter prometheus.Counter) *panicGroup {
	return &panicGroup{
		log:                pg.log,
		logPanicsToStdErr:  pg.logPanicsToStdErr,
		exitProcessOnPanic: pg.exitProcessOnPanic,
		panicsCounter:      counter,
	}
}

// Go runs fn in a new goroutine. A panic in fn is reported and, for the
// unrecoverable group, terminates the process.
func (pg *panicGroup) Go(fn func()) {
	go func() {
		defer pg.recoverRoutine(fn)
		fn()
	}()
}

func (pg *panicGroup) recoverRoutine(fn func()) {
	recoverRes := recover()
	if recoverRes == nil {
		return
	}
	var cs []string
	if pg.log != nil {
		cs = getPanicCallStack(recoverRes, fn)
		for _, line := range cs {
			pg.log.Warn(line)
		}
	}
	if pg.logPanicsToStdErr {
		if len(cs) == 0 {
			cs = getPanicCallStack(recoverRes, fn)
		}
		for _, line := range cs {
			fmt.Fprintln(os.Stderr, line)
		}
	}

	if pg.panicsCounter != nil {
		pg.panicsCounter.Inc()
	}
	if pg.exitProcessOnPanic {
		os.Exit(1)
	}
}

func getPanicCallStack(recoveredErr interface{}, fn func()) []string {
	functionName := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	lines := []string{fmt.Sprintf("panicking go-routine %q : %v", functionName, recoveredErr)}
	return append(lines, strings.Split(strings.TrimSpace(string(debug.Stack())), "\n")...)
}
