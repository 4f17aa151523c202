package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"

	"github.com/devcubo3/trabalho-mae/config"
)

const pageStyle = `
body{font-family:Arial,Helvetica,sans-serif;background:#f4f5f7;margin:0;color:#222}
main{max-width:720px;margin:40px auto;background:#fff;padding:32px;border-radius:8px;box-shadow:0 1px 4px rgba(0,0,0,.1)}
h1{font-size:22px;margin-top:0}
label{display:block;margin-top:14px;font-weight:bold;font-size:14px}
input{width:100%;padding:8px;margin-top:4px;box-sizing:border-box}
.row{display:flex;gap:12px}.row>div{flex:1}
button{margin-top:20px;padding:10px 20px;font-size:15px;cursor:pointer}
#log{margin-top:24px;font-family:monospace;font-size:13px;white-space:pre-wrap}
.erro{color:#b00020}.concluido{color:#0a7d28;font-weight:bold}
`

const pageScript = `
const form = document.getElementById("upload");
const log = document.getElementById("log");
function line(text, cls) {
  const div = document.createElement("div");
  div.textContent = text;
  if (cls) div.className = cls;
  log.appendChild(div);
  return div;
}
function show(ev) {
  const div = line(ev.mensagem, ev.tipo);
  if (ev.tipo === "concluido" && ev.arquivo) {
    const a = document.createElement("a");
    a.href = "/download/" + encodeURIComponent(ev.arquivo);
    a.textContent = " Baixar " + ev.arquivo;
    div.appendChild(a);
  }
}
form.addEventListener("submit", async (e) => {
  e.preventDefault();
  log.textContent = "";
  const button = form.querySelector("button");
  button.disabled = true;
  try {
    const resp = await fetch("/processar", {method: "POST", body: new FormData(form)});
    const reader = resp.body.getReader();
    const decoder = new TextDecoder();
    let buffer = "";
    for (;;) {
      const {done, value} = await reader.read();
      if (done) break;
      buffer += decoder.decode(value, {stream: true});
      let end;
      while ((end = buffer.indexOf("\n\n")) >= 0) {
        const chunk = buffer.slice(0, end);
        buffer = buffer.slice(end + 2);
        if (chunk.startsWith("data: ")) show(JSON.parse(chunk.slice(6)));
      }
    }
  } catch (err) {
    line("Erro de conexão: " + err, "erro");
  } finally {
    button.disabled = false;
  }
});
`

func field(label, name, value, typ string, attrs ...g.Node) g.Node {
	return h.Div(
		h.Label(h.For(name), g.Text(label)),
		h.Input(append([]g.Node{h.ID(name), h.Name(name), h.Type(typ), h.Value(value)}, attrs...)...),
	)
}

func indexPage(account config.Account, hasServerKey bool) g.Node {
	keyHint := "Chave da API OpenAI"
	var keyAttrs []g.Node
	if hasServerKey {
		keyHint = "Chave da API OpenAI (opcional, o servidor já possui uma)"
	} else {
		keyAttrs = append(keyAttrs, h.Required())
	}

	return h.Doctype(
		h.HTML(
			h.Lang("pt-BR"),
			h.Head(
				h.Meta(h.Charset("utf-8")),
				h.Meta(h.Name("viewport"), h.Content("width=device-width, initial-scale=1")),
				h.TitleEl(g.Text("Movimentação Bancária - Extrator de Extratos")),
				h.StyleEl(g.Raw(pageStyle)),
			),
			h.Body(
				h.Main(
					h.H1(g.Text("Movimentação Bancária")),
					h.P(g.Text("Envie o extrato em PDF. Cada página é analisada e o resultado é gerado em DOCX.")),
					h.Form(
						h.ID("upload"),
						h.Method("post"),
						h.Action("/processar"),
						h.EncType("multipart/form-data"),
						field("Extrato (PDF)", "pdf", "", "file", h.Accept("application/pdf,.pdf"), h.Required()),
						field(keyHint, "api_key", "", "password", keyAttrs...),
						h.Div(
							h.Class("row"),
							field("Banco", "banco", account.Bank, "text"),
							field("Agência", "agencia", account.Branch, "text"),
							field("Conta", "conta", account.Number, "text"),
						),
						h.Button(h.Type("submit"), g.Text("Processar")),
					),
					h.Div(h.ID("log")),
				),
				h.Script(g.Raw(pageScript)),
			),
		),
	)
}

func (hd handlers) index() gin.HandlerFunc {
	page := indexPage(hd.config.Account, hd.config.OpenAI.APIKey != "")
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.Status(http.StatusOK)
		if err := page.Render(c.Writer); err != nil {
			hd.logger.Warn("failed to render index", "error", err)
		}
	}
}
