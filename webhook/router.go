package webhook

import "net/http"

const (
	PathIncoming = "/voice/incoming"
	PathStatus   = "/voice/status"
	PathDecline  = "/calls/decline"
	PathAnswered = "/calls/answered"
	PathToken    = "/token"
	PathHealth   = "/healthz"
	PathStream   = "/stream"
)

// NewRouter mounts the ingress endpoints and the stream handler on one mux.
func NewRouter(s *Service, stream http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+PathIncoming, s.Incoming)
	mux.HandleFunc("POST "+PathStatus, s.Status)
	mux.HandleFunc("POST "+PathDecline, s.Decline)
	mux.HandleFunc("POST "+PathAnswered, s.Answered)
	mux.HandleFunc("GET "+PathToken, s.Token)
	mux.HandleFunc("GET "+PathHealth, s.Health)
	if stream != nil {
		mux.Handle(PathStream, stream)
	}
	return mux
}
