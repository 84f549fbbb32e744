package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/riveruniversity/mp-print/internal/model"
)

// zebraResetSequence is the bit-exact line-separated ZPL reset payload of
// spec §6. Order matters; this is sent to the printer as a single file.
var zebraResetSequence = []string{
	"~SD20", "~JSN", "^XA", "^SZ2", "^PW203", "^LL2030", "^POI", "^PMN",
	"^MNM", "^LS0", "^MTT", "^MMT,N", "^MPE", "^XZ", "^XA^JUS^XZ",
}

// handleZebraReset implements POST /api/print/zebra/reset-media/:printerName.
// Unlike the spooler binary the dispatcher drives for label PDFs (internal/
// spool), the reset payload is plain text copied straight to the printer's
// share name (`copy <path> <printerName>`), so this handler writes its own
// temp file and shells out directly rather than reusing internal/spool's
// BinaryPath-invocation contract.
func (a *API) handleZebraReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	printerName := strings.TrimPrefix(r.URL.Path, "/api/print/zebra/reset-media/")
	if printerName == "" {
		writeError(w, http.StatusNotFound, "printer name required")
		return
	}

	rec, ok := a.registry.Get(printerName)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown printer")
		return
	}
	if rec.Status != model.PrinterOnline {
		writeError(w, http.StatusBadRequest, "printer is offline")
		return
	}

	if err := a.copyResetPayload(r.Context(), printerName); err != nil {
		writeError(w, http.StatusInternalServerError, "reset-media failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "reset", "printerName": printerName})
}

// copyResetPayload writes the ZPL reset sequence to a collision-free temp
// file and copies it to printerName with the OS `copy` command, under a
// 10s wall-clock cap matching the spooler contract's own budget.
func (a *API) copyResetPayload(ctx context.Context, printerName string) error {
	dir := os.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("mp-print-zebra-reset-%d-%s.zpl", time.Now().UnixNano(), uuid.NewString()))
	payload := []byte(strings.Join(zebraResetSequence, "\n") + "\n")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return err
	}
	defer func() {
		time.AfterFunc(2*time.Second, func() {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) && a.log != nil {
				a.log.Warn("zebra reset temp file cleanup failed", "path", path, "error", rmErr.Error())
			}
		})
	}()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "cmd", "/c", "copy", path, printerName)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrSpoolFailed, err)
	}
	return nil
}
