package httputil

import (
	"net/http"

	"github.com/getsentry/sentry-go"
)

// RouteTag is the name of the tag holding the matched route pattern.
const RouteTag = "http.route"

// NameTransaction names the request transaction after the route pattern so
// IDs in the path don't create a transaction per resource.
func NameTransaction(method, route string, next http.Handler) http.HandlerFunc {
	name := method + " " + route
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.Scope().SetTransaction(name)
			hub.Scope().SetTag(RouteTag, route)
		}
		next.ServeHTTP(w, r)
	})
}
