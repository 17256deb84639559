package escrowd

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
)

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var (
		after uint64
		limit = 100
		err   error
	)
	if raw := query.Get("after"); raw != "" {
		if after, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeError(w, fmt.Errorf("%w: after must be an unsigned integer", errBadRequest))
			return
		}
	}
	if raw := query.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			writeError(w, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
	}
	rows, err := s.audit.List(r.Context(), after, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": rows})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	checked, err := s.audit.Verify(r.Context())
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{"valid": false, "checked": checked, "error": err.Error()})
		return
	}
	seq, head := s.audit.Head()
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "checked": checked, "seq": seq, "head": head})
}

type exportRequest struct {
	After uint64 `json:"after"`
}

// handleAuditExport writes a parquet file under the export directory. Only
// the administrator may trigger it.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	if _, err := s.exec(r.Context(), "audit_export_auth", func(ctx context.Context) (interface{}, error) {
		return nil, s.engine.AuthorizeAdmin(ctx)
	}); err != nil {
		writeError(w, err)
		return
	}
	name := fmt.Sprintf("audit-%s-%d.parquet", s.nowFn().UTC().Format("20060102T150405Z"), req.After)
	path := filepath.Join(s.exportDir, name)
	rows, err := s.audit.ExportParquet(r.Context(), path, req.After)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"path": path, "rows": rows})
}
