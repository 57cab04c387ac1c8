package apiclient

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// Authorizer attaches the session credential to requests and accepts
// rejection reports. *session.Store satisfies it.
type Authorizer interface {
	Authorize(req *http.Request) (epoch uint64, ok bool)
	Invalidate(epoch uint64, reason error) bool
}

// Recorder receives per-request measurements.
type Recorder interface {
	ObserveRequest(method string, code int, elapsed time.Duration)
	ObserveRejection()
}

// Transport decorates every request with a request ID and the session's
// bearer credential, and turns a 401 on an authorized request into a single
// session invalidation.
type Transport struct {
	Base       http.RoundTripper
	Session    Authorizer
	OnRejected func()
	Recorder   Recorder
	Logger     zerolog.Logger
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if out.Header.Get(requestIDHeader) == "" {
		out.Header.Set(requestIDHeader, uuid.NewString())
	}

	var (
		epoch      uint64
		authorized bool
	)
	if t.Session != nil {
		epoch, authorized = t.Session.Authorize(out)
	}

	start := time.Now()
	resp, err := t.base().RoundTrip(out)
	if err != nil {
		t.observe(out.Method, 0, time.Since(start))
		return nil, err
	}
	t.observe(out.Method, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized && authorized {
		t.reject(out, epoch)
	}
	return resp, nil
}

func (t *Transport) reject(req *http.Request, epoch uint64) {
	if !t.Session.Invalidate(epoch, ErrUnauthorized) {
		return
	}
	t.Logger.Warn().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("request_id", req.Header.Get(requestIDHeader)).
		Msg("credential rejected, session cleared")
	if t.Recorder != nil {
		t.Recorder.ObserveRejection()
	}
	if t.OnRejected != nil {
		t.OnRejected()
	}
}

func (t *Transport) observe(method string, code int, elapsed time.Duration) {
	if t.Recorder != nil {
		t.Recorder.ObserveRequest(method, code, elapsed)
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
