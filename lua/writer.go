package lua

import (
	"fmt"
	"io"

	"github.com/samaelod/xbridge/types"
)

// WriteTable renders mappings as a Lua script that ReadTable accepts.
func WriteTable(w io.Writer, mappings []types.NodeMapping) error {
	bw := &errWriter{w: w}

	bw.println("-- xbridge node table")
	bw.println("local config = {}")
	bw.println()
	bw.println("config.nodes = {")
	for _, m := range mappings {
		if m.ID.IsPort() {
			bw.printf("\t{ address = %q, port = %d },\n", m.Address.String(), m.ID.Port)
		} else {
			bw.printf("\t{ address = %q, name = %q },\n", m.Address.String(), m.ID.Name)
		}
	}
	bw.println("}")
	bw.println()
	bw.println("return config")

	return bw.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func (e *errWriter) println(args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintln(e.w, args...)
}
