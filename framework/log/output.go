package log

import (
	"sync/atomic"
	"time"
)

// Output is where a Logger's formatted lines end up: a file, stderr, a
// test buffer, or several of those via MultiOutput.
type Output interface {
	Write(stamp time.Time, debug bool, msg string)
	Close() error
}

type multiOut struct {
	outs []Output
}

func (m multiOut) Write(stamp time.Time, debug bool, msg string) {
	for _, out := range m.outs {
		out.Write(stamp, debug, msg)
	}
}

func (m multiOut) Close() error {
	for _, out := range m.outs {
		if err := out.Close(); err != nil {
			return err
		}
	}
	return nil
}

func MultiOutput(outputs ...Output) Output {
	return multiOut{outputs}
}

type funcOut struct {
	out   func(time.Time, bool, string)
	close func() error
}

func (f funcOut) Write(stamp time.Time, debug bool, msg string) {
	f.out(stamp, debug, msg)
}

func (f funcOut) Close() error {
	return f.close()
}

func FuncOutput(f func(time.Time, bool, string), close func() error) Output {
	return funcOut{f, close}
}

type NopOutput struct{}

func (NopOutput) Write(time.Time, bool, string) {}

func (NopOutput) Close() error { return nil }

// CountingOutput wraps another Output and tallies messages passed
// through it, split into non-debug and debug counts. camelstore has no
// daemon of its own; its one binary, cmd/camelstore-tool, runs a
// best-effort batch operation (e.g. listing folders, skipping ones that
// fail to read) and needs to report a non-zero exit status if anything
// was logged as an error, without scraping the formatted line for it.
type CountingOutput struct {
	inner   Output
	msgs    int64
	dbgMsgs int64
}

// NewCountingOutput wraps inner, forwarding every Write/Close to it.
func NewCountingOutput(inner Output) *CountingOutput {
	return &CountingOutput{inner: inner}
}

func (c *CountingOutput) Write(stamp time.Time, debug bool, msg string) {
	if debug {
		atomic.AddInt64(&c.dbgMsgs, 1)
	} else {
		atomic.AddInt64(&c.msgs, 1)
	}
	c.inner.Write(stamp, debug, msg)
}

func (c *CountingOutput) Close() error {
	return c.inner.Close()
}

// Count returns the number of non-debug messages written so far.
func (c *CountingOutput) Count() int {
	return int(atomic.LoadInt64(&c.msgs))
}

// DebugCount returns the number of debug messages written so far.
func (c *CountingOutput) DebugCount() int {
	return int(atomic.LoadInt64(&c.dbgMsgs))
}
