package observe

import "net/http"

// Transport is an http.RoundTripper middleware that offers every outgoing
// request URL to an Observer before sending it.
type Transport struct {
	Base     http.RoundTripper
	Observer *Observer
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, o *Observer) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Observer: o}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Observer != nil && req.URL != nil {
		t.Observer.Observe(req.URL.String())
	}
	return t.Base.RoundTrip(req)
}

// Middleware returns an http.Handler middleware observing inbound request
// URLs, for deployments where the daemon sits in front of the backend.
func Middleware(o *Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			o.Observe(r.URL.String())
			next.ServeHTTP(w, r)
		})
	}
}
