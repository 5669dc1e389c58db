package headless

import (
	"fmt"
	"io"
	"sync"

	"github.com/killallgit/atelier/pkg/logger"
)

// Output serialises writes from the REPL and the controller's update
// stream.
type Output struct {
	mu sync.Mutex
	w  io.Writer
}

func NewOutput(w io.Writer) *Output {
	return &Output{w: w}
}

func (o *Output) Println(a ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.w, a...)
}

func (o *Output) Printf(format string, a ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, format, a...)
}

// Error prints msg and logs it.
func (o *Output) Error(msg string) {
	logger.Error("%s", msg)
	o.Println("error: " + msg)
}
