package commands

import (
	"net/http"

	"github.com/ratengine/rengine/engine"
	"github.com/ratengine/rengine/router"
)

// registerHealthCheck wires a plain liveness endpoint into the engine's
// router; every listener mode that carries a router.Router serves it.
func registerHealthCheck(eng *engine.Engine) {
	eng.Router().HandleFunc(http.MethodGet, "/healthz", func(r *http.Request, params map[string]string) (*router.Response, error) {
		return &router.Response{Status: http.StatusOK, Body: []byte("ok")}, nil
	})
}
