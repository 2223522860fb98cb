package audit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowguard/pkg/httputil"
	"github.com/platinummonkey/flowguard/pkg/observability"
	"github.com/platinummonkey/flowguard/pkg/rbac"
)

// Handlers provides the login activity API
type Handlers struct {
	store *Store
}

// NewHandlers creates new login activity handlers
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers login activity routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/login-activity", rbac.RequirePermission("loginActivity:view")(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/login-activity", rbac.RequirePermission("loginActivity:delete")(http.HandlerFunc(h.delete))).Methods("DELETE")
}

// DeleteRequest selects the activities to remove
type DeleteRequest struct {
	Selected []string `json:"selected"`
}

// DeleteResponse reports how many activities were removed
type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// list handles GET /login-activity
func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	page, err := h.store.List(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to list login activity")
		httputil.WriteInternalError(w)
		return
	}
	_ = httputil.WriteSuccess(w, page)
}

// delete handles DELETE /login-activity
func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Selected) == 0 {
		httputil.WriteBadRequest(w, "no activity selected")
		return
	}

	n, err := h.store.Delete(r.Context(), req.Selected)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to delete login activity")
		httputil.WriteInternalError(w)
		return
	}
	_ = httputil.WriteSuccess(w, DeleteResponse{Deleted: n})
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{Username: q.Get("username")}

	if codes := q.Get("code"); codes != "" {
		for _, raw := range strings.Split(codes, ",") {
			c, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return filter, errInvalid("code", raw)
			}
			filter.Codes = append(filter.Codes, ActivityCode(c))
		}
	}
	for key, dest := range map[string]**time.Time{"start": &filter.StartTime, "end": &filter.EndTime} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errInvalid(key, raw)
		}
		*dest = &t
	}
	for key, dest := range map[string]*int{"page": &filter.Page, "pageSize": &filter.PageSize} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, errInvalid(key, raw)
		}
		*dest = n
	}
	return filter, nil
}

type invalidParam struct{ key, value string }

func (e invalidParam) Error() string {
	return "invalid " + e.key + ": " + strconv.Quote(e.value)
}

func errInvalid(key, value string) error {
	return invalidParam{key: key, value: value}
}
