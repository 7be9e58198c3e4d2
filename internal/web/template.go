package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/nisc/wearable-core/internal/status"
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
	"pct": func(received, total uint32) int {
		if total == 0 {
			return 0
		}
		return int(received * 100 / total)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Wearable Core</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.idle { color: #888; }
.warn { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Wearable Core<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Boot</h2>
<table>
<tr><th>Mode</th><td id="mode">{{.Mode}}</td></tr>
<tr><th>Update Slot</th><td id="slot">{{.Slot}}</td></tr>
{{if .Fault}}<tr><th>Fault</th><td class="warn">{{.Fault.Code}}{{if .Fault.Detail}} — {{.Fault.Detail}}{{end}}</td></tr>{{end}}
</table>

<h2>Firmware Transfer</h2>
<table>
<tr><th>Session</th><td id="dfu-state" class="{{if .DFU.Active}}ok{{else}}idle{{end}}">{{if .DFU.Active}}active ({{pct .DFU.Received .DFU.Total}}%){{else if .DFU.Committing}}validating{{else}}idle{{end}}</td></tr>
<tr><th>Sessions</th><td>{{.DFU.Sessions}}</td></tr>
<tr><th>Timeouts</th><td>{{.DFU.Timeouts}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Peer</th><td id="peer" class="{{if .Link}}connected{{else}}disconnected{{end}}">{{if .Link}}{{.Link.PeerAddr}}{{else}}none{{end}}</td></tr>
{{if .Link}}<tr><th>Subscriptions</th><td>{{.Link.Subscriptions}}</td></tr>{{end}}
<tr><th>Disconnects</th><td>{{.Disconnects}}{{if .Disconnects}} (last: {{.LastReason}}){{end}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Input</h2>
<table>
<tr><th>Presses</th><td>{{.Buttons.Presses}}</td></tr>
<tr><th>Holds</th><td>{{.Buttons.Holds}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Flush</th><td>{{.Config.FlushMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");

    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data).status;
        document.getElementById("mode").textContent = msg.mode;
        document.getElementById("slot").textContent = msg.slot;
        var dfu = document.getElementById("dfu-state");
        if (msg.dfu.active) {
          var pct = msg.dfu.total ? Math.floor(msg.dfu.received * 100 / msg.dfu.total) : 0;
          dfu.textContent = "active (" + pct + "%)";
          dfu.className = "ok";
        } else if (msg.dfu.committing) {
          dfu.textContent = "validating";
          dfu.className = "warn";
        } else {
          dfu.textContent = "idle";
          dfu.className = "idle";
        }
        var peer = document.getElementById("peer");
        if (msg.link) {
          peer.textContent = msg.link.peer;
          peer.className = "connected";
        } else {
          peer.textContent = "none";
          peer.className = "disconnected";
        }
      } catch (e) {}
    };
  }

  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
