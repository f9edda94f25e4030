package ui

import (
	"fmt"
	"strconv"

	. "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"

	"queryflow/internal/ratelimit"
	"queryflow/internal/render"
	"queryflow/internal/router"
	"queryflow/internal/session"
	"queryflow/pkg/types"
)

type toast struct {
	Kind    string
	Message string
}

type pageState struct {
	Snapshot session.Snapshot
	Catalog  []types.QueryRecord
	History  router.History
	Term     string
	Offset   int
	Theme    string
	Toasts   []toast
}

func page(st pageState) Node {
	limited := st.Snapshot.RateLimit.Limited
	return Doctype(HTML(
		Lang("en"),
		Data("theme", st.Theme),
		Head(
			Meta(Charset("utf-8")),
			Meta(Name("viewport"), Content("width=device-width, initial-scale=1")),
			// the countdown advances once a second while the limit holds
			If(limited, Meta(Attr("http-equiv", "refresh"), Content("1"))),
			TitleEl(Text("QueryFlow")),
			StyleEl(Raw(stylesheet)),
		),
		Body(
			Header(Class("topbar"),
				H1(Text("QueryFlow")),
				Form(Method("post"), Action("/ui/theme"),
					Button(Type("submit"), Class("btn secondary"), ID("theme-toggle"),
						Text(themeLabel(st.Theme))),
				),
			),
			toastList(st.Toasts),
			If(limited, Div(Class("banner warning"), Attr("role", "alert"), Text(st.Snapshot.RateLimit.Message))),
			Main(Class("layout"),
				Aside(Class("sidebar"),
					catalogList(st.Catalog, st.Snapshot.Selected),
					historyList(st.History, st.Term),
				),
				Section(Class("content"),
					editorForm(st.Snapshot),
					resultSection(st.Snapshot.Selected, st.Offset),
				),
			),
		),
	))
}

func themeLabel(theme string) string {
	if theme == themeDark {
		return "Light theme"
	}
	return "Dark theme"
}

func toastList(toasts []toast) Node {
	if len(toasts) == 0 {
		return nil
	}
	items := make([]Node, 0, len(toasts))
	for _, t := range toasts {
		items = append(items, Li(Class("toast "+t.Kind), Text(t.Message)))
	}
	return Ul(Class("toasts"), Attr("aria-live", "polite"), Group(items))
}

func catalogList(queries []types.QueryRecord, selected *types.QueryRecord) Node {
	items := make([]Node, 0, len(queries))
	for _, q := range queries {
		cls := "query"
		if selected != nil && selected.ID == q.ID {
			cls += " active"
		}
		items = append(items, Li(
			Form(Method("post"), Action("/ui/select"),
				Input(Type("hidden"), Name("id"), Value(strconv.Itoa(q.ID))),
				Button(Type("submit"), Class(cls), Code(Text(q.Text))),
			),
		))
	}
	return Nav(Class("panel"),
		H2(Text("Queries")),
		Ul(Class("plain"), Group(items)),
	)
}

// historyList shows recent submissions. Catalog entries can be reopened;
// failed ones are listed as plain text.
func historyList(hist router.History, term string) Node {
	items := make([]Node, 0, len(hist))
	for _, rec := range hist {
		if rec.IsSynthetic() {
			items = append(items, Li(Class("history muted"), Text(rec.Text)))
			continue
		}
		items = append(items, Li(
			Form(Method("post"), Action("/ui/select"),
				Input(Type("hidden"), Name("id"), Value(strconv.Itoa(rec.ID))),
				Button(Type("submit"), Class("history"), Code(Text(rec.Text))),
			),
		))
	}

	var body Node
	if len(items) == 0 {
		body = P(Class("muted"), Text("No queries yet."))
	} else {
		body = Ul(Class("plain"), Group(items))
	}

	return Div(Class("panel"),
		H2(Text("History")),
		Form(Method("get"), Action("/"),
			Input(Type("search"), Name("q"), Value(term), Placeholder("Search history")),
		),
		body,
	)
}

func editorForm(snap session.Snapshot) Node {
	rl := snap.RateLimit
	return Form(Class("panel editor"), Method("post"), Action("/ui/run"),
		Label(For("query"), Text("Query")),
		Textarea(ID("query"), Name("query"), Attr("rows", "4"), Attr("spellcheck", "false"),
			Placeholder("SELECT * FROM employees;"), Text(snap.Input)),
		If(snap.Error != "", P(Class("inline-error"), Text(snap.Error))),
		Div(Class("actions"),
			Button(Type("submit"), Class("btn"), If(rl.Limited || snap.Loading, Disabled()), Text("Run Query")),
			Button(Type("submit"), Class("btn secondary"), Attr("formaction", "/ui/clear"), Text("Clear")),
			Span(Class("muted"), Text(remainingText(rl))),
		),
	)
}

func remainingText(rl ratelimit.Status) string {
	if rl.Limited {
		return fmt.Sprintf("Next query in %ds", rl.ResetIn)
	}
	return fmt.Sprintf("%d of %d queries left this minute", rl.Remaining, rl.Limit)
}

func resultSection(rec *types.QueryRecord, offset int) Node {
	if rec == nil {
		return Div(Class("panel"), P(Class("muted"), Text("Run a query to see results.")))
	}
	if len(rec.Rows) == 0 {
		return Div(Class("panel"),
			H2(Text("Results")),
			P(Code(Text(rec.Text))),
			P(Class("muted"), Text("No rows.")),
		)
	}

	pg := render.Window(*rec, offset, 0)

	head := make([]Node, 0, len(pg.Headers))
	for _, hdr := range pg.Headers {
		head = append(head, Th(Text(hdr)))
	}
	body := make([]Node, 0, len(pg.Rows))
	for _, row := range pg.Rows {
		cells := make([]Node, 0, len(pg.Columns))
		for _, col := range pg.Columns {
			cells = append(cells, Td(Text(render.FormatValue(row[col]))))
		}
		body = append(body, Tr(Group(cells)))
	}

	meta := fmt.Sprintf("%d rows", pg.Total)
	if pg.Virtualized {
		meta = fmt.Sprintf("%d rows, showing %d to %d", pg.Total, pg.Offset+1, pg.Offset+len(pg.Rows))
	}

	return Div(Class("panel results"),
		Div(Class("results-head"),
			H2(Text("Results")),
			A(Href("/ui/export.csv"), Class("btn secondary"), Text("Export CSV")),
		),
		P(Code(Text(rec.Text))),
		P(Class("muted"), Text(meta)),
		Div(Class("table-wrap"),
			Table(
				THead(Tr(Group(head))),
				TBody(Group(body)),
			),
		),
		If(pg.Virtualized, pager(pg)),
	)
}

func pager(pg render.Page) Node {
	var links []Node
	if pg.Offset > 0 {
		prev := max(pg.Offset-pg.Limit, 0)
		links = append(links, A(Href("/?offset="+strconv.Itoa(prev)), Class("btn secondary"), Text("Previous")))
	}
	if pg.HasMore {
		links = append(links, A(Href("/?offset="+strconv.Itoa(pg.Offset+pg.Limit)), Class("btn secondary"), Text("Next")))
	}
	return Div(Class("pager"), Group(links))
}
