package panel

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/unipanel/backend/core/logger"
)

var (
	// Version is the version of the current build
	Version = "unset"
)

type deploymentInfo struct {
	Version      string    `json:"version"`
	FirstStarted time.Time `json:"first_started"`
}

// recordDeployment stores the build version and the first start time in
// the registry. The first start time survives restarts.
func (b *Backend) recordDeployment() {
	accessor := b.Registry.Accessor("panel")
	info := deploymentInfo{}
	if _, err := accessor.Read("deployment", &info); err != nil || info.FirstStarted.IsZero() {
		info.FirstStarted = b.Now()
	}
	info.Version = Version
	if err := accessor.Write("deployment", info); err != nil {
		logger.Default().Errorln("cannot record deployment:", err)
	}
}

func (b *Backend) handleVersion() {
	logger.Default().Debugln("  handle route: /version GET")
	b.router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		data, _ := json.Marshal(map[string]string{"version": Version})
		w.Write(data)
	}).Methods(http.MethodOptions, http.MethodGet)
}
