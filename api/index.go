// Package api exposes the serverless entrypoint. The platform routes every
// request to Handler; the application is built lazily on the first invocation
// and reused while the execution unit stays warm.
package api

import (
	"net/http"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"analytics-hub/app"
)

var bootOnce sync.Once

var runtime struct {
	rt  *app.Runtime
	err error
}

func Handler(w http.ResponseWriter, r *http.Request) {
	bootOnce.Do(func() {
		// Migrations are opt-in here: cold starts must stay fast and the
		// registry schema is managed by the long-running deployment.
		runtime.rt, runtime.err = app.Build(app.Options{
			RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
		})
	})

	if runtime.err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"application bootstrap failed"}`))
		return
	}
	runtime.rt.Handler.ServeHTTP(w, r)
}
