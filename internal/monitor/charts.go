package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/helmholtz/internal/coil"
	"github.com/banshee-data/helmholtz/internal/field"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// AttachAdminRoutes mounts the field chart and current plot on the tsweb
// debugger of mux.
func (r *Recorder) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("field-chart", "Recent field readings (echarts)", http.HandlerFunc(r.handleFieldChart))
	debug.Handle("field-plot.png", "Recent axis currents (PNG)", http.HandlerFunc(r.handleCurrentPlot))
}

// limitParam reads ?n= with a fallback of all readings.
func limitParam(req *http.Request) (int, error) {
	v := req.URL.Query().Get("n")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid n %q", v)
	}
	return n, nil
}

func (r *Recorder) handleFieldChart(w http.ResponseWriter, req *http.Request) {
	n, err := limitParam(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	page, err := FieldChart(r.Recent(n))
	if err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (r *Recorder) handleCurrentPlot(w http.ResponseWriter, req *http.Request) {
	n, err := limitParam(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	png, err := CurrentPlot(r.Recent(n))
	if err != nil {
		http.Error(w, fmt.Sprintf("plot error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// FieldChart renders target and reconstructed magnitudes as an HTML line
// chart, with per-axis measured currents below.
func FieldChart(readings []coil.Reading) ([]byte, error) {
	labels := make([]string, len(readings))
	target := make([]opts.LineData, len(readings))
	actual := make([]opts.LineData, len(readings))
	currents := [field.NumAxes][]opts.LineData{}
	for i, rd := range readings {
		labels[i] = rd.CompletedAt.Format(time.TimeOnly)
		target[i] = opts.LineData{Value: rd.Target.Magnitude}
		actual[i] = opts.LineData{Value: rd.Field.Magnitude}
		for _, a := range field.Axes {
			currents[a] = append(currents[a], opts.LineData{Value: rd.Currents.Get(a)})
		}
	}

	subtitle := fmt.Sprintf("readings=%d", len(readings))
	if len(readings) > 0 {
		subtitle += " last=" + readings[len(readings)-1].CompletedAt.Format(time.RFC3339)
	}

	magnitude := charts.NewLine()
	magnitude.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Coil Field", Width: "100%", Height: "420px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Field magnitude", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mT"}),
	)
	magnitude.SetXAxis(labels).
		AddSeries("target", target).
		AddSeries("reconstructed", actual)

	axes := charts.NewLine()
	axes.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Measured currents"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "A"}),
	)
	axes.SetXAxis(labels)
	for _, a := range field.Axes {
		axes.AddSeries(a.String(), currents[a])
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(magnitude, axes)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CurrentPlot draws the signed measured current of each axis against the
// reading index as a PNG.
func CurrentPlot(readings []coil.Reading) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Axis currents (%d readings)", len(readings))
	p.X.Label.Text = "Reading"
	p.Y.Label.Text = "Current (A)"
	p.Add(plotter.NewGrid())

	for i, a := range field.Axes {
		pts := make(plotter.XYs, len(readings))
		for j, rd := range readings {
			pts[j] = plotter.XY{X: float64(j), Y: rd.Currents.Get(a)}
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(a.String(), line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
