package web

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/sweeney/roast-probe/internal/status"
	"github.com/sweeney/roast-probe/internal/telemetry"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"bleClass": func(s string) string {
		switch s {
		case "CONNECTED":
			return "connected"
		case "ADVERTISING":
			return "pending"
		case "":
			return "off"
		}
		return "disconnected"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Config.DeviceName}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.fault { color: orange; }
.off { color: #888; }
.pending { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>{{.Config.DeviceName}}<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Roaster</h2>
<table>
{{range .Fields}}<tr><th>{{.Label}}</th><td id="{{.ID}}"{{if .Fault}} class="fault"{{end}}>{{.Value}}</td></tr>
{{end}}</table>

<h2>Bluetooth</h2>
<table>
<tr><th>State</th><td class="{{bleClass (printf "%s" .BLE.State)}}">{{if .Config.BLEEnabled}}{{.BLE.State}}{{else}}disabled{{end}}</td></tr>
{{if .BLE.Central}}<tr><th>Central</th><td>{{.BLE.Central}}</td></tr>{{end}}
<tr><th>Subscriptions</th><td>{{.BLE.Subscriptions}}</td></tr>
<tr><th>Connects</th><td>{{.BLE.Connects}}</td></tr>
<tr><th>Notifications</th><td>{{.BLE.Notifications}} ({{.BLE.Coalesced}} coalesced, {{.BLE.NotifyErrors}} errors)</td></tr>
</table>

<h2>Sensors</h2>
<table>
<tr><th>Source</th><td>{{.Config.SensorSource}}</td></tr>
{{range .Sensors}}<tr><th>{{.Name}}</th><td{{if ne .Breaker "closed"}} class="fault"{{end}}>{{.Breaker}}, {{.Faults}} faults{{if .LastError}} ({{.LastError}}){{end}}</td></tr>
{{end}}</table>

<h2>Phase</h2>
<table>
<tr><th>ZCD edges</th><td>{{.Phase.ZCD}}</td></tr>
<tr><th>Heater / fan edges</th><td>{{.Phase.Heater}} / {{.Phase.Fan}}</td></tr>
<tr><th>Setting changes</th><td>{{.Phase.Transitions}}</td></tr>
<tr><th>Auto-off</th><td>{{.Phase.SignalLoss}}</td></tr>
<tr><th>Ignored / dropped</th><td>{{.Phase.Ignored}} / {{.EdgesDropped}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}: {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Serial</th><td>{{.Config.Serial}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Roast log</th><td>{{.LogRows}} rows{{if .LogErrors}}, {{.LogErrors}} errors{{end}}</td></tr>
<tr><th>Notify interval</th><td>{{.Config.NotifyIntervalMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/telemetry.json">telemetry</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var fields = {{.FieldIDs}};

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function show(values, faults) {
    Object.keys(fields).forEach(function(key) {
      var el = document.getElementById(fields[key]);
      if (!el) { return; }
      var v = values[key];
      el.textContent = (v === null || v === undefined) ? "n/a" : v;
      el.className = faults.indexOf(key) >= 0 ? "fault" : "";
    });
  }
{{if .Config.WSBroker}}
  var s = document.createElement("script");
  s.src = "/mqtt.min.js";
  s.onload = function() {
    var client = mqtt.connect("{{.Config.WSBroker}}", { reconnectPeriod: 5000 });
    client.on("connect", function() { setDot("ok", "live"); client.subscribe("roaster/probe/telemetry"); });
    client.on("reconnect", function() { setDot("pending", "reconnecting"); });
    client.on("offline", function() { setDot("err", "offline"); });
    client.on("error", function() { setDot("err", "error"); });
    client.on("message", function(t, payload) {
      try {
        var r = JSON.parse(payload.toString()).roaster;
        if (r) {
          r.co2 = r.co2_ppm;
          show(r, r.faults || []);
        }
      } catch (e) {}
    });
  };
  document.head.appendChild(s);
{{else}}
  var es = new EventSource("/events");
  es.onopen = function() { setDot("ok", "live"); };
  es.onerror = function() { setDot("pending", "reconnecting"); };
  es.onmessage = function(ev) {
    try {
      var t = JSON.parse(ev.data);
      show(t.values, t.faults);
    } catch (e) {}
  };
{{end}}
})();
</script>
</body>
</html>
`

type fieldView struct {
	ID    string
	Label string
	Value string
	Fault bool
}

var fieldLabels = [telemetry.NumFields]struct {
	label string
	prec  int
	unit  string
}{
	telemetry.BeanTemp:    {"Bean temp", 1, " °C"},
	telemetry.ExhaustTemp: {"Exhaust temp", 1, " °C"},
	telemetry.Humidity:    {"Humidity", 1, " %"},
	telemetry.CO2:         {"CO2", 0, " ppm"},
	telemetry.Heater:      {"Heater", 0, ""},
	telemetry.Fan:         {"Fan", 0, ""},
}

func fieldViews(snap telemetry.Snapshot) []fieldView {
	out := make([]fieldView, 0, telemetry.NumFields+1)
	for _, f := range telemetry.AllFields() {
		v := snap.Get(f)
		l := fieldLabels[f]
		fv := fieldView{ID: "f-" + f.String(), Label: l.label, Value: "n/a", Fault: v.Fault}
		if v.Valid {
			fv.Value = strconv.FormatFloat(v.Value, 'f', l.prec, 64) + l.unit
		}
		out = append(out, fv)
	}
	density := fieldView{ID: "f-co2_g_m3", Label: "CO2 density", Value: "n/a"}
	if d, ok := telemetry.CO2DensityOf(snap); ok {
		density.Value = strconv.FormatFloat(d, 'f', 4, 64) + " g/m³"
	}
	return append(out, density)
}

func fieldIDs() map[string]string {
	ids := map[string]string{"co2_g_m3": "f-co2_g_m3"}
	for _, f := range telemetry.AllFields() {
		ids[f.String()] = "f-" + f.String()
	}
	return ids
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Fields   []fieldView
		FieldIDs map[string]string
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Fields:   fieldViews(snap.Telemetry),
		FieldIDs: fieldIDs(),
	}
	indexTmpl.Execute(w, data)
}
