package docx_test

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devcubo3/trabalho-mae/internal/docx"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

var account = types.Account{Bank: "BRADESCO", Branch: "3050", Number: "7223-0"}

func documentXML(t *testing.T, s docx.Statement) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, docx.Write(&buf, s))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	names := map[string]bool{}
	var body string
	for _, f := range zr.File {
		names[f.Name] = true
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		requireWellFormed(t, f.Name, content)
		if f.Name == "word/document.xml" {
			body = string(content)
		}
	}
	require.True(t, names["[Content_Types].xml"])
	require.True(t, names["_rels/.rels"])
	require.NotEmpty(t, body)
	return body
}

func requireWellFormed(t *testing.T, name string, content []byte) {
	t.Helper()
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		require.NoError(t, err, name)
	}
}

func TestWriteGroupsByMonth(t *testing.T) {
	body := documentXML(t, docx.Statement{
		Account: account,
		Transactions: []types.Transaction{
			{Date: "03/02/2023", Kind: "D", Description: "TARIFA", Amount: "10,00"},
			{Date: "05/01/2023", Kind: "C", Description: "PIX RECEBIDO", Amount: "1.000,00"},
			{Date: "06/02/2023", Kind: "C", Description: "ESTORNO", Amount: "10,00"},
		},
	})

	require.Contains(t, body, "MOVIMENTAÇÃO BANCÁRIA ANO 2023")
	require.Contains(t, body, "BRADESCO  AG.3050    C/C 7223-0")
	require.Equal(t, 2, strings.Count(body, "MOVIMENTAÇÃO BANCÁRIA ANO 2023"))
	require.Equal(t, 1, strings.Count(body, `<w:br w:type="page"/>`))

	jan, feb := strings.Index(body, ">JANEIRO<"), strings.Index(body, ">FEVEREIRO<")
	require.True(t, jan > 0 && feb > jan, "months must be sorted")
	require.Equal(t, 2, strings.Count(body, "<w:tbl>"))

	for _, width := range []string{`w:w="1417"`, `w:w="1134"`, `w:w="5669"`, `w:w="1701"`} {
		require.Contains(t, body, "<w:gridCol "+width+"/>")
	}
	require.Contains(t, body, `<w:pgMar w:top="850" w:right="850" w:bottom="850" w:left="850"`)
	require.Equal(t, 2, strings.Count(body, `<w:insideV w:val="single"`))
	require.Equal(t, 2, strings.Count(body, `<w:tblLayout w:type="fixed"/>`))
}

func TestCreditRowsAreBold(t *testing.T) {
	body := documentXML(t, docx.Statement{
		Account: account,
		Transactions: []types.Transaction{
			{Date: "01/03/2023", Kind: "crédito", Description: "DEPOSITO", Amount: "5,00"},
			{Date: "01/03/2023", Kind: "D", Description: "SAQUE", Amount: "7,00"},
		},
	})

	credit := body[strings.Index(body, ">CRED<")-200 : strings.Index(body, ">CRED<")]
	require.Contains(t, credit, "<w:b/>")

	debit := body[strings.Index(body, ">DEB<")-120 : strings.Index(body, ">DEB<")]
	require.NotContains(t, debit, "<w:b/>")
	require.Contains(t, body, `<w:jc w:val="right"/></w:pPr><w:r><w:rPr><w:rFonts w:ascii="Arial" w:hAnsi="Arial" w:cs="Arial"/><w:sz w:val="18"/></w:rPr><w:t xml:space="preserve">7,00</w:t>`)
}

func TestEscapesText(t *testing.T) {
	body := documentXML(t, docx.Statement{
		Account: types.Account{Bank: "A&B <BANK>", Branch: "1", Number: "2"},
		Transactions: []types.Transaction{
			{Date: "01/03/2023", Kind: "D", Description: `PAG "BOLETO" <X> & Y`, Amount: "1,00"},
		},
	})
	require.Contains(t, body, "A&amp;B &lt;BANK&gt;")
	require.Contains(t, body, "&lt;X&gt; &amp; Y")
}

func TestYear(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "2021", docx.Year([]types.Transaction{{Date: "10/10/2021"}, {Date: "01/01/2022"}}, now))
	require.Equal(t, "2025", docx.Year([]types.Transaction{{Date: "10/10"}}, now))
	require.Equal(t, "2025", docx.Year(nil, now))
}

func TestGroupByMonth(t *testing.T) {
	months := docx.GroupByMonth([]types.Transaction{
		{Date: "??", Kind: "D", Description: "a"},
		{Date: "01/13/2023", Kind: "D", Description: "b"},
		{Date: "01/12/2023", Kind: "C", Description: "c"},
		{Date: "02/12/2023", Kind: "D", Description: "d"},
	})

	require.Len(t, months, 3)
	require.Equal(t, "00", months[0].Key)
	require.Equal(t, "MÊS 00", months[0].Name)
	require.Equal(t, "DEZEMBRO", months[1].Name)
	require.Equal(t, "MÊS 13", months[2].Name)

	require.Len(t, months[1].Rows, 2)
	require.Equal(t, []string{"01/12/2023", "CRED", "c", ""}, months[1].Rows[0].Cells)
	require.True(t, months[1].Rows[0].Bold)
	require.Equal(t, "DEB", months[1].Rows[1].Cells[1])
}
