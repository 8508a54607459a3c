package httpapi

import "html/template"

var pageFuncs = template.FuncMap{
	"gt1": func(n int) bool { return n > 1 },
}

const layoutTmpl = `{{define "head"}}<!doctype html>
<html lang="zh-CN"><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>
body{font-family:sans-serif;margin:24px;background:#f6f7f9}
table{border-collapse:collapse;width:100%;background:#fff}
th,td{border:1px solid #ddd;padding:6px 10px;text-align:center}
.badge-pass{color:#2e7d32}.badge-fail{color:#c62828}
.badge-low{color:#2e7d32}.badge-medium{color:#ef6c00}.badge-high{color:#c62828}
.card{display:inline-block;background:#fff;border:1px solid #ddd;padding:12px 18px;margin:0 12px 12px 0}
.alert{color:#c62828}
</style></head><body>
<nav>{{range .Nav}}<a href="/categories/{{.Category}}">{{.Title}}</a> | {{end}}<a href="/">仪表盘</a></nav>{{end}}
{{define "foot"}}<script>
(function(){var p=location.protocol==="https:"?"wss://":"ws://";
var ws=new WebSocket(p+location.host+"/ws/events");ws.onmessage=function(){location.reload()};})();
</script></body></html>{{end}}`

const dashboardTmpl = `{{define "dashboard"}}{{template "head" .}}
<div id="dashboard-capture-area">
<h1>{{.Title}}</h1>
<p>{{.Summary.Window}} · 总检测数 {{.Summary.Total}}</p>
{{range .Summary.Stats}}<div class="card" id="card_{{.Category}}"><h3>{{.Title}}</h3>
<p>检测数 <span id="card_{{.Category}}_count">{{.Count}}</span></p>
{{if .HasPassRate}}<p>合格率 <span id="card_{{.Category}}_pass">{{.PassRate}}%</span></p>{{end}}
{{if .Positive}}<p class="alert">阳性 {{.Positive}}</p>{{end}}</div>{{end}}
{{if .Summary.Alerts}}<h2>预警</h2><ul>{{range .Summary.Alerts}}<li class="alert">{{.}}</li>{{end}}</ul>{{end}}
{{if .Summary.Canteens}}<h2>食堂合格率</h2><table><tr><th>食堂</th><th>检测数</th><th>合格</th><th>合格率</th></tr>
{{range .Summary.Canteens}}<tr><td>{{.Canteen}}</td><td>{{.Total}}</td><td>{{.Passed}}</td><td>{{.PassRate}}%</td></tr>{{end}}</table>{{end}}
</div>
{{template "foot" .}}{{end}}`

const categoryTmpl = `{{define "category"}}{{template "head" .}}
<h1>{{.Title}}</h1>
<table id="{{.Table.SurfaceID}}"><thead><tr>{{range .Table.Headers}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>{{range .Table.Rows}}<tr>{{range .Cells}}<td{{if gt1 .RowSpan}} rowspan="{{.RowSpan}}"{{end}}{{if gt1 .ColSpan}} colspan="{{.ColSpan}}"{{end}}{{with .Class}} class="{{.}}"{{end}}>
{{if .Action}}<button data-action="{{.Action}}" data-id="{{.ActionID}}">{{.Text}}</button>{{else}}{{.Text}}{{end}}</td>{{end}}</tr>{{end}}</tbody></table>
{{with .Table.Page}}<p>第 {{.Number}}/{{.Pages}} 页，共 {{.Total}} 条</p>{{end}}
<script>
document.getElementById("{{.Table.SurfaceID}}").addEventListener("click",function(e){
var b=e.target.closest("button[data-action]");if(!b)return;
if(!confirm("确定删除该记录吗？此操作不可恢复！"))return;
fetch("/api/categories/{{.Category}}/records/"+b.dataset.id,{method:"DELETE"}).then(function(){location.reload()});});
</script>
{{template "foot" .}}{{end}}`

func parsePages() *template.Template {
	t := template.New("pages").Funcs(pageFuncs)
	template.Must(t.Parse(layoutTmpl))
	template.Must(t.Parse(dashboardTmpl))
	template.Must(t.Parse(categoryTmpl))
	return t
}
