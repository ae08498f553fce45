package server

import "net/http"

// handleMonitor serves a live view of the scenario stream.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(monitorHTML))
}

const monitorHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Kitchen Scenario Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        :root { --bg: #10141a; --panel: #1a2029; --text: #e6e9ef; --muted: #8a93a3; --alert: #ff5c5c; --ok: #4cd07d; }
        body { margin: 0; font-family: system-ui, sans-serif; background: var(--bg); color: var(--text); }
        .app { max-width: 1100px; margin: 0 auto; padding: 20px; }
        .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 16px; }
        .title { font-size: 22px; font-weight: 600; }
        .badge { padding: 4px 10px; border-radius: 12px; font-size: 12px; background: #2b3340; }
        .badge.live { background: var(--ok); color: #000; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        .panel { background: var(--panel); border-radius: 8px; padding: 16px; }
        h2 { margin: 0 0 10px; font-size: 16px; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td, th { text-align: left; padding: 6px 4px; border-bottom: 1px solid #2b3340; }
        th { color: var(--muted); font-weight: normal; }
        tr.emergency td { color: var(--alert); font-weight: 600; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Kitchen Scenario Monitor</div>
            <span class="badge" id="status-badge">Connecting...</span>
        </div>
        <div class="grid">
            <div class="panel">
                <h2>Scenarios</h2>
                <table>
                    <thead><tr><th>Time</th><th>Session</th><th>Scenario</th><th>Incident</th></tr></thead>
                    <tbody id="events"></tbody>
                </table>
            </div>
            <div class="panel">
                <h2>Sessions</h2>
                <table>
                    <thead><tr><th>Kind</th><th>Frames</th><th>Events</th><th>Reporting</th></tr></thead>
                    <tbody id="sessions"></tbody>
                </table>
            </div>
        </div>
    </div>
    <script>
        const maxRows = 100;
        const badge = document.getElementById('status-badge');
        const events = document.getElementById('events');

        function cell(text) {
            const td = document.createElement('td');
            td.textContent = text;
            return td;
        }

        function addEvent(ev) {
            const tr = document.createElement('tr');
            if (ev.incident_id) tr.className = 'emergency';
            tr.appendChild(cell(new Date(ev.timestamp * 1000).toLocaleTimeString()));
            tr.appendChild(cell((ev.session_id || '').slice(0, 8)));
            tr.appendChild(cell(ev.scenario));
            tr.appendChild(cell(ev.incident_id || ''));
            events.prepend(tr);
            while (events.children.length > maxRows) events.lastChild.remove();
        }

        function connect() {
            const source = new EventSource('/api/scenarios/stream');
            source.onopen = () => { badge.textContent = 'Live'; badge.className = 'badge live'; };
            source.onmessage = (e) => addEvent(JSON.parse(e.data));
            source.onerror = () => { badge.textContent = 'Reconnecting...'; badge.className = 'badge'; };
        }

        async function refreshSessions() {
            try {
                const resp = await fetch('/api/sessions');
                const body = await resp.json();
                const tbody = document.getElementById('sessions');
                tbody.replaceChildren();
                for (const s of body.sessions || []) {
                    const tr = document.createElement('tr');
                    tr.appendChild(cell(s.kind));
                    tr.appendChild(cell(s.frames));
                    tr.appendChild(cell(s.events));
                    tr.appendChild(cell(s.reporting || ''));
                    tbody.appendChild(tr);
                }
            } catch (err) {
                console.warn('session refresh failed', err);
            }
        }

        connect();
        refreshSessions();
        setInterval(refreshSessions, 2000);
    </script>
</body>
</html>
`
