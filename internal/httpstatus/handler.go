package httpstatus

import (
	"bufio"
	"bytes"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"sort"

	"github.com/julienschmidt/httprouter"

	"github.com/shardroute/dbproxy/internal/monitoring"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/pkg/log"
)

// NewHandler builds the routed http.Handler backing the auxiliary surface:
// "/" for the HTML page, "/monitor" for the plain-text health check,
// anything else a 404, matching spec.md §6 exactly.
func NewHandler(reporter *Reporter) http.Handler {
	router := httprouter.New()
	router.GET("/", reporter.serveStatusPage)
	router.GET("/monitor", reporter.serveMonitor)
	return router
}

// Handle adapts NewHandler's http.Handler to internal/session's
// HTTPHandler contract: a connection session.Run has already peeked and
// recognized as HTTP, but not yet consumed. r may hold buffered bytes read
// during that peek, so the request is parsed off r, not conn directly.
func Handle(handler http.Handler) func(conn net.Conn, r *bufio.Reader) {
	return func(conn net.Conn, r *bufio.Reader) {
		defer conn.Close()
		req, err := http.ReadRequest(r)
		if err != nil {
			return
		}
		req.RemoteAddr = conn.RemoteAddr().String()

		rec := &recorder{header: make(http.Header), status: http.StatusOK}
		handler.ServeHTTP(rec, req)

		resp := &http.Response{
			StatusCode:    rec.status,
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        rec.header,
			Body:          io.NopCloser(bytes.NewReader(rec.body.Bytes())),
			ContentLength: int64(rec.body.Len()),
		}
		if err := resp.Write(conn); err != nil {
			log.GetLogger().Sugar().Debugw("http auxiliary response write failed", "err", err)
		}
	}
}

// recorder is a minimal http.ResponseWriter: handlers here are simple
// enough (one template render, one plain-text line) that buffering the
// whole body before writing needs no streaming support.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header         { return r.header }
func (r *recorder) Write(b []byte) (int, error) { return r.body.Write(b) }
func (r *recorder) WriteHeader(status int)      { r.status = status }

func (r *Reporter) serveMonitor(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	status := r.Check(req.Context())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, status.Level().String())
	for _, msg := range status.Messages() {
		fmt.Fprintln(w, msg)
	}
}

func (r *Reporter) serveStatusPage(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	view, err := r.view(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	page := buildStatusPage(view)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusPageTemplate.Execute(w, page); err != nil {
		log.GetLogger().Sugar().Errorw("render status page", "err", err)
	}
}

type statusPage struct {
	CreatedAt string
	Shards    []shardRow
}

type shardRow struct {
	ID       topology.ShardID
	Kind     string
	Level    string
	Messages []string
	Backends []string
}

func buildStatusPage(view *snapshotView) statusPage {
	ids := make([]topology.ShardID, 0, len(view.shards))
	for id := range view.shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	page := statusPage{CreatedAt: view.snap.CreatedAt.Format("2006-01-02 15:04:05 MST")}
	for _, id := range ids {
		sv := view.shards[id]
		row := shardRow{ID: id, Kind: kindString(sv.identity.Kind), Backends: sv.identity.Hosts}
		if sv.err != nil {
			row.Level = monitoring.Critical.String()
			row.Messages = []string{sv.err.Error()}
		} else {
			row.Level = sv.status.Level().String()
			row.Messages = sv.status.Messages()
		}
		page.Shards = append(page.Shards, row)
	}
	return page
}

func kindString(k topology.ShardKind) string {
	switch k {
	case topology.KindReplicaSet:
		return "replica set"
	case topology.KindSyncGroup:
		return "sync group"
	default:
		return "singleton"
	}
}

var statusPageTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>shard status</title></head>
<body>
<h1>shard status</h1>
<p>config loaded at {{.CreatedAt}}</p>
<table border="1" cellpadding="4">
<tr><th>shard</th><th>kind</th><th>level</th><th>backends</th><th>messages</th></tr>
{{range .Shards}}
<tr>
<td>{{.ID}}</td>
<td>{{.Kind}}</td>
<td>{{.Level}}</td>
<td>{{range .Backends}}{{.}}<br>{{end}}</td>
<td>{{range .Messages}}{{.}}<br>{{end}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`))
