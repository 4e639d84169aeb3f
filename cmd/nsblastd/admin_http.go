package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nsblast/nsblast/internal/api"
	"github.com/nsblast/nsblast/internal/xlog"
)

// newAdminMux wires svc's operations to plain net/http verbs. This is
// stdlib-only by design (SPEC_FULL.md A4): HTTP routing, JSON marshalling,
// and authorization are the named external collaborator spec.md §1
// excludes from this repo's scope, so the mux below exists only to make
// the binary runnable end to end, not as a REST framework.
func newAdminMux(svc api.AdminService) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/zones", func(w http.ResponseWriter, r *http.Request) {
		tenant := r.URL.Query().Get("tenant")
		switch r.Method {
		case http.MethodGet:
			zones, err := svc.ListZones(tenant)
			writeJSON(w, zones, err)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/zones/", func(w http.ResponseWriter, r *http.Request) {
		apex := strings.TrimPrefix(r.URL.Path, "/zones/")
		tenant := r.URL.Query().Get("tenant")
		switch r.Method {
		case http.MethodGet:
			zone, err := svc.GetZone(tenant, apex)
			writeJSON(w, zone, err)
		case http.MethodDelete:
			err := svc.DeleteZone(tenant, apex)
			writeJSON(w, nil, err)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/backups", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			backups, err := svc.ListBackups()
			writeJSON(w, backups, err)
		case http.MethodPost:
			info, err := svc.CreateBackup()
			writeJSON(w, info, err)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/backups/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/backups/")
		switch r.Method {
		case http.MethodDelete:
			writeJSON(w, nil, svc.DeleteBackup(id))
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		switch xlog.KindOf(err) {
		case xlog.KindNotFound:
			status = http.StatusNotFound
		case xlog.KindAlreadyExists:
			status = http.StatusConflict
		case xlog.KindConstraint:
			status = http.StatusBadRequest
		case xlog.KindConflict:
			status = http.StatusConflict
		case xlog.KindDenied:
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
