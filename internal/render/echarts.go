package render

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

// EChartsAssetsHost serves the echarts javascript for debug pages.
const EChartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// Panel is one heat map on the debug page.
type Panel struct {
	Title string
	Grid  *grid.Grid
}

func axisLabels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

func heatmapChart(p Panel, ramp Ramp) *charts.HeatMap {
	g := p.Grid
	data := make([]opts.HeatMapData, 0, g.Len())
	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{c, r, g.At(r, c)}})
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "GridEye " + p.Title, Theme: "dark", Width: "600px", Height: "600px", AssetsHost: EChartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: p.Title, Subtitle: fmt.Sprintf("%dx%d cells", g.Rows(), g.Cols())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "col"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "row", Data: axisLabels(g.Rows())}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(ramp.Min),
			Max:        float32(ramp.Max),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(axisLabels(g.Cols())).AddSeries(p.Title, data)
	return hm
}

// HeatmapPage renders one heat map per panel into w as a single HTML page.
func HeatmapPage(w io.Writer, ramp Ramp, panels ...Panel) error {
	if len(panels) == 0 {
		return fmt.Errorf("render page: no panels")
	}
	page := components.NewPage()
	page.SetAssetsHost(EChartsAssetsHost)
	page.PageTitle = "GridEye"
	for _, p := range panels {
		if p.Grid == nil {
			continue
		}
		page.AddCharts(heatmapChart(p, ramp))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}
