// Package httpclient builds the *http.Client instances the rest of the
// core uses to reach the target environment and the LLM backend.
//
// Grounded on devops-wiz/terraform-provider-jira's
// provider_http_client.go buildHTTPClient: wrap go-retryablehttp and hand
// back its StandardClient() so callers keep using the stdlib http.Client
// interface. The target-environment client pins RetryMax to 0 — the
// run executor treats every HTTP response, including 4xx/5xx, as a
// normal (non-retried) execution outcome, so retrying here would
// silently contradict that contract. The LLM client keeps a small retry
// budget: that traffic is a transport concern (the model backend, not
// the system under test), not part of what's being verified.
package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures a constructed client.
type Options struct {
	TimeoutSeconds int
	RetryMax       int
	RetryWaitMinMs int
	RetryWaitMaxMs int
}

// NewTargetClient builds the client used by the run executor against the
// system under test. RetryMax is always forced to 0 regardless of opts,
// since retrying here would mask the exact pass/fail signal the executor
// is supposed to record.
func NewTargetClient(opts Options) *http.Client {
	opts.RetryMax = 0
	return build(opts)
}

// NewLLMClient builds the client used by the dependency analyzer's chat
// completion calls. A modest retry budget absorbs transient 429/5xx
// backend errors without the caller having to implement its own loop.
func NewLLMClient(opts Options) *http.Client {
	if opts.RetryMax == 0 {
		opts.RetryMax = 2
	}
	return build(opts)
}

func build(opts Options) *http.Client {
	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.RetryMax <= 0 {
		return &http.Client{Timeout: timeout}
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = durationOrDefault(opts.RetryWaitMinMs, 500)
	rc.RetryWaitMax = durationOrDefault(opts.RetryWaitMaxMs, 5000)
	rc.Logger = leveledLogger{log.Logger.With().Str("component", "httpclient").Logger()}

	client := rc.StandardClient()
	client.Timeout = timeout
	return client
}

func durationOrDefault(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

// leveledLogger adapts zerolog.Logger to retryablehttp.LeveledLogger so
// retry diagnostics flow through the same structured sink as everything
// else instead of retryablehttp's own stdlib-log default.
type leveledLogger struct {
	l zerolog.Logger
}

func (g leveledLogger) Error(msg string, kv ...any) { g.log(g.l.Error(), msg, kv) }
func (g leveledLogger) Info(msg string, kv ...any)  { g.log(g.l.Info(), msg, kv) }
func (g leveledLogger) Debug(msg string, kv ...any) { g.log(g.l.Debug(), msg, kv) }
func (g leveledLogger) Warn(msg string, kv ...any)  { g.log(g.l.Warn(), msg, kv) }

func (g leveledLogger) log(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
