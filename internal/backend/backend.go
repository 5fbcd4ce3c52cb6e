// Package backend defines the closed set of completion backends the router
// can dispatch to: a local model server and a hosted API. Which one handles
// a request is explicit configuration, never string matching at call sites.
package backend

import (
	"context"
	"errors"
)

// Name identifies a backend variant.
type Name string

const (
	Local  Name = "local"
	Hosted Name = "hosted"
)

// ErrQuotaExceeded is returned by a backend when the provider reports a
// quota or rate-limit condition. The router treats it as permanent for the
// life of the process.
var ErrQuotaExceeded = errors.New("backend quota exceeded")

// Options are the completion parameters common to all backends.
type Options struct {
	Temperature float64
	MaxTokens   int
	TopK        int
	TopP        float64
	Stop        []string
}

// Backend produces a completion for a prompt. Implementations must honor
// ctx cancellation and deadlines.
type Backend interface {
	Name() Name
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// ParseName validates a caller-supplied backend name.
func ParseName(s string) (Name, error) {
	switch Name(s) {
	case Local, Hosted:
		return Name(s), nil
	case "":
		return Local, nil
	}
	return "", errors.New("unknown backend " + s)
}
