package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/qepting91/listing-watcher/internal/monitor"
)

// Status is what the dashboard reads from the scheduler
type Status interface {
	State() monitor.State
	LastReport() *monitor.Report
}

// NewRouter serves the charts on /, health on /healthz and the
// Prometheus registry on /metrics.
func NewRouter(st Status, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		rep := st.LastReport()
		if rep == nil {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte("No cycle has finished yet.\n"))
			return
		}
		page := components.NewPage()
		page.PageTitle = "Listing Watcher"
		page.AddCharts(trackedPie(rep), changesBar(rep))
		page.Render(w)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"state": st.State().String()}
		if rep := st.LastReport(); rep != nil {
			body["last_cycle"] = rep.StartedAt.Format(time.RFC3339)
			body["last_cycle_id"] = rep.CycleID
			body["last_cycle_failed"] = rep.Failed()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}

func sourceName(s monitor.SourceReport) string {
	if s.Label != "" {
		return s.Label
	}
	return s.URL
}

// 1. Tracked listings per source
func trackedPie(rep *monitor.Report) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Tracked Listings", Subtitle: "cycle " + rep.CycleID}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)

	var items []opts.PieData
	for _, s := range rep.Sources {
		items = append(items, opts.PieData{Name: sourceName(s), Value: s.Tracked})
	}
	pie.AddSeries("Listings", items)
	return pie
}

// 2. Last cycle New/Updated per source
func changesBar(rep *monitor.Report) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Last Cycle Changes"}))

	var x []string
	var newY, updY []opts.BarData
	for _, s := range rep.Sources {
		x = append(x, sourceName(s))
		newY = append(newY, opts.BarData{Value: s.New})
		updY = append(updY, opts.BarData{Value: s.Updated})
	}
	bar.SetXAxis(x).
		AddSeries("New", newY).
		AddSeries("Updated", updY)
	return bar
}
