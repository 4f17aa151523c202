// Package docx writes the "Movimentação Bancária" document: one section per month, each
// with the account header and a bordered table of entries.
package docx

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/devcubo3/trabalho-mae/internal/types"
)

// twips per centimetre
const cm = 566.93

var months = map[string]string{
	"01": "JANEIRO", "02": "FEVEREIRO", "03": "MARÇO", "04": "ABRIL",
	"05": "MAIO", "06": "JUNHO", "07": "JULHO", "08": "AGOSTO",
	"09": "SETEMBRO", "10": "OUTUBRO", "11": "NOVEMBRO", "12": "DEZEMBRO",
}

var columns = []column{
	{Title: "DATA", Width: twips(2.5), Align: "center"},
	{Title: "DEB/CRED", Width: twips(2.0), Align: "center"},
	{Title: "DESCRIÇÃO", Width: twips(10.0), Align: "left"},
	{Title: "VALOR", Width: twips(3.0), Align: "right"},
}

type Statement struct {
	Account      types.Account
	Transactions []types.Transaction
	// Now supplies the year when no entry carries a full date.
	Now time.Time
}

type column struct {
	Title string
	Width int
	Align string
}

type Row struct {
	Cells []string
	Bold  bool
}

type Month struct {
	Key  string
	Name string
	Rows []Row
}

type page struct {
	Title   string
	Account string
	Columns []column
	Margin  int
	Months  []Month
}

// Write renders s as a DOCX package to w.
func Write(w io.Writer, s Statement) error {
	p := page{
		Title:   "MOVIMENTAÇÃO BANCÁRIA ANO " + Year(s.Transactions, s.Now),
		Account: fmt.Sprintf("%s  AG.%s    C/C %s", s.Account.Bank, s.Account.Branch, s.Account.Number),
		Columns: columns,
		Margin:  twips(1.5),
		Months:  GroupByMonth(s.Transactions),
	}

	var body strings.Builder
	if err := documentTemplate.Execute(&body, p); err != nil {
		return fmt.Errorf("render document: %w", err)
	}

	zw := zip.NewWriter(w)
	for _, part := range []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", relsXML},
		{"word/_rels/document.xml.rels", documentRelsXML},
		{"word/styles.xml", stylesXML},
		{"word/document.xml", body.String()},
	} {
		f, err := zw.CreateHeader(&zip.FileHeader{Name: part.name, Method: zip.Deflate, Modified: s.Now})
		if err != nil {
			return err
		}
		if _, err := io.WriteString(f, part.content); err != nil {
			return err
		}
	}
	return zw.Close()
}

// Year is the year of the first entry, or of now when that date has no year.
func Year(transactions []types.Transaction, now time.Time) string {
	if len(transactions) > 0 {
		if parts := strings.Split(transactions[0].Date, "/"); len(parts) == 3 && parts[2] != "" {
			return parts[2]
		}
	}
	if now.IsZero() {
		now = time.Now()
	}
	return fmt.Sprint(now.Year())
}

// GroupByMonth keeps entry order inside a month and sorts months by key. Entries whose
// date is not DD/MM/AAAA land in month "00".
func GroupByMonth(transactions []types.Transaction) []Month {
	byKey := map[string][]Row{}
	for _, t := range transactions {
		key := "00"
		if parts := strings.Split(t.Date, "/"); len(parts) == 3 {
			key = parts[1]
		}
		kind := "DEB"
		if t.Credit() {
			kind = "CRED"
		}
		byKey[key] = append(byKey[key], Row{
			Cells: []string{t.Date, kind, t.Description, t.Amount},
			Bold:  t.Credit(),
		})
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Month, 0, len(keys))
	for _, k := range keys {
		name, ok := months[k]
		if !ok {
			name = "MÊS " + k
		}
		out = append(out, Month{Key: k, Name: name, Rows: byKey[k]})
	}
	return out
}

func twips(centimetres float64) int {
	return int(centimetres*cm + 0.5)
}

func escape(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

type cell struct {
	Column column
	Text   string
	Bold   bool
	Align  string
}

func headCell(c column) cell {
	return cell{Column: c, Text: c.Title, Bold: true, Align: "center"}
}

func bodyCell(i int, text string, bold bool) cell {
	return cell{Column: columns[i], Text: text, Bold: bold, Align: columns[i].Align}
}

var documentTemplate = template.Must(template.New("document.xml").Funcs(template.FuncMap{
	"x":        escape,
	"headCell": headCell,
	"bodyCell": bodyCell,
}).Parse(documentXML))
