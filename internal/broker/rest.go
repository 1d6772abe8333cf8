package broker

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/linux-automation/tacd-go/pkg/log"
)

// NewRouter builds the REST bridge: one route per registered topic, GET for
// readable topics and PUT/POST for writable ones, mirroring the teacher's
// one-router-plus-per-resource-route style (see server.go's setupRoutes).
func (s *Sealed) NewRouter() *mux.Router {
	r := mux.NewRouter()

	for _, t := range s.topics {
		if t.Path() == "" {
			continue
		}

		if t.Readable() {
			r.Path(t.Path()).Methods(http.MethodGet).HandlerFunc(getHandler(t))
		}

		if t.Writable() {
			r.Path(t.Path()).Methods(http.MethodPut, http.MethodPost).HandlerFunc(putHandler(t))
		}
	}

	return r
}

func getHandler(t AnyTopic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := t.TryGetAsBytes()
		if !ok {
			http.Error(w, "don't have a retained message yet", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}

func putHandler(t AnyTopic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}

		if err := t.SetFromBytes(body); err != nil {
			log.Warnf("rest: %s: %s", t.Path(), err)
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
