/*
demo.go - Demo dataset loader

PURPOSE:

	Populates the database with the deterministic demo dataset (regions,
	customers, products and a synthetic ledger) so the KPI and validation
	endpoints have something to work on.

HOW LOADING WORKS:
 1. Reset database (clear all data, including KPI results and logs)
 2. Build the dataset via factory.NewDemoDataset
 3. Save registries, then append the ledger as one batch

USAGE VIA API:

	POST /api/demo/load
	{"days": 90, "seed": 42}

	Both fields are optional.

NOTE:

	Loading resets the database. Only use in development/demo environments.

SEE ALSO:
  - factory/dataset.go: dataset generation rules
*/
package api

import (
	"net/http"

	"github.com/warp/sales-kpi-engine/factory"
	"go.uber.org/zap"
)

// LoadDemo resets the store and loads the demo dataset.
func (h *Handler) LoadDemo(w http.ResponseWriter, r *http.Request) {
	var req LoadDemoRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	days := req.Days
	if days == 0 {
		days = h.settings.DemoDays
	}
	seed := factory.DefaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	ds := factory.NewDemoDataset(h.now(), days, seed)
	if err := ds.Load(ctx, h.Store); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load demo dataset", err)
		return
	}

	resp := LoadDemoResponse{
		Status:       "loaded",
		Regions:      len(ds.Regions),
		Customers:    len(ds.Customers),
		Products:     len(ds.Products),
		Transactions: len(ds.Facts),
	}
	if rng, ok := ds.Range(); ok {
		resp.StartDate = formatDay(rng.Start)
		resp.EndDate = formatDay(rng.End)
	}

	h.logger.Info("Demo dataset loaded",
		zap.Int("days", days),
		zap.Int64("seed", seed),
		zap.Int("transactions", resp.Transactions))

	writeJSON(w, http.StatusOK, resp)
}
