// Package tools ships the built-in tools every Forgeline deployment gets
// out of the box: a clock, an echo skill, an HTTP fetcher, and sub-agent
// delegation. They double as working examples of the tool contract for
// embedders writing their own.
package tools

import (
	"net/http"

	"github.com/forgeline/forgeline/internal/chain"
	"github.com/forgeline/forgeline/internal/tool"
)

// RegisterBuiltins adds the standard tool set to a registry. index may be
// nil, in which case the delegate tool is skipped; client may be nil for
// http.DefaultClient.
func RegisterBuiltins(r *tool.Registry, index *chain.Index, client *http.Client) error {
	builtins := []tool.Tool{
		NewClock(),
		NewEcho(),
		NewHTTPFetch(client),
	}
	if index != nil {
		builtins = append(builtins, NewDelegate(index))
	}
	for _, t := range builtins {
		if err := r.Register(t, false); err != nil {
			return err
		}
	}
	return nil
}
