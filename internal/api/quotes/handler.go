package quotes

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"marketwatch/internal/domain/market"
	"marketwatch/internal/services/watch"
	"marketwatch/pkg/logger"
)

const requestTimeout = 10 * time.Second

// Lookup serves symbol search and candle history
type Lookup interface {
	Search(ctx context.Context, query string, class market.AssetType) []market.SearchResult
	History(ctx context.Context, symbol, interval string) []market.Candle
}

// ViewSource provides the latest derived view
type ViewSource interface {
	View() watch.View
}

// Handler exposes read-only market endpoints
type Handler struct {
	lookup Lookup
	views  ViewSource
	log    *logger.Logger
}

// New creates a market handler
func New(lookup Lookup, views ViewSource, log *logger.Logger) *Handler {
	return &Handler{
		lookup: lookup,
		views:  views,
		log:    log.With("component", "market_api"),
	}
}

// Register mounts the endpoints on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/search", h.HandleSearch)
	mux.HandleFunc("/api/history", h.HandleHistory)
	mux.HandleFunc("/api/view", h.HandleView)
}

// HandleSearch answers ?q=<query>&class=<CRYPTO|STOCK|FOREX>. class defaults to STOCK.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	class := market.AssetStock
	if raw := r.URL.Query().Get("class"); raw != "" {
		class = market.AssetType(strings.ToUpper(raw))
		if !class.Valid() {
			writeError(w, http.StatusBadRequest, "unknown asset class")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, h.lookup.Search(ctx, query, class))
}

// HandleHistory answers ?symbol=<symbol>&interval=<interval>
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := market.NormalizeSymbol(r.URL.Query().Get("symbol"))
	if !market.IsValidSymbol(symbol) {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	candles := h.lookup.History(ctx, symbol, r.URL.Query().Get("interval"))
	h.log.Debugw("History served", "symbol", symbol, "candles", len(candles))
	writeJSON(w, http.StatusOK, candles)
}

// HandleView returns the filtered rows and portfolio stats
func (h *Handler) HandleView(w http.ResponseWriter, _ *http.Request) {
	v := h.views.View()
	writeJSON(w, http.StatusOK, viewResponse{
		Rows:     v.Filtered,
		Selected: v.Selected,
		Stats:    v.Stats,
		Filters:  v.Filters,
		Balance:  v.Balance.StringFixed(2),
		Quotes:   v.Quotes,
		Updated:  v.Updated,
	})
}

type viewResponse struct {
	Rows     []market.WatchlistVm `json:"rows"`
	Selected *market.WatchlistVm  `json:"selected,omitempty"`
	Stats    market.MarketStats   `json:"stats"`
	Filters  market.Filters       `json:"filters"`
	Balance  string               `json:"balance"`
	Quotes   int                  `json:"quotes"`
	Updated  time.Time            `json:"updated"`
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
