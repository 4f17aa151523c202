package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/devcubo3/trabalho-mae/internal/types"
)

const fence = "```"

// Parse decodes a model reply for page. Replies wrapped in a markdown fence, surrounded by
// prose or slightly malformed are still accepted.
func Parse(page int, reply string) (types.PageResult, error) {
	content := stripFence(strings.TrimSpace(reply))

	if result, err := decode(content); err == nil {
		return result, nil
	}

	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start != -1 && end > start {
		if result, err := decode(content[start : end+1]); err == nil {
			return result, nil
		}
	}

	if repaired, err := jsonrepair.JSONRepair(content); err == nil {
		if result, err := decode(repaired); err == nil {
			return result, nil
		}
	}

	return types.PageResult{}, fmt.Errorf("página %d: resposta não é JSON válido: %s", page, truncate(content, 200))
}

func stripFence(content string) string {
	if !strings.HasPrefix(content, fence) {
		return content
	}
	if i := strings.Index(content, "\n"); i != -1 {
		content = content[i+1:]
	} else {
		content = content[len(fence):]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), fence)
	return strings.TrimSpace(content)
}

type rawTransaction struct {
	Date        lenientString `json:"data"`
	Kind        lenientString `json:"tipo"`
	Description lenientString `json:"descricao"`
	Amount      lenientString `json:"valor"`
}

type rawPage struct {
	Transactions    []rawTransaction `json:"lancamentos"`
	HasContinuation lenientBool      `json:"pagina_tem_continuacao"`
	Notes           lenientString    `json:"observacoes"`
}

func decode(content string) (types.PageResult, error) {
	if !strings.HasPrefix(strings.TrimSpace(content), "{") {
		return types.PageResult{}, errors.New("not a JSON object")
	}

	var raw rawPage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return types.PageResult{}, err
	}

	result := types.PageResult{
		Transactions:    make([]types.Transaction, 0, len(raw.Transactions)),
		HasContinuation: bool(raw.HasContinuation),
		Notes:           strings.TrimSpace(string(raw.Notes)),
	}
	for _, t := range raw.Transactions {
		result.Transactions = append(result.Transactions, types.Transaction{
			Date:        strings.TrimSpace(string(t.Date)),
			Kind:        strings.TrimSpace(string(t.Kind)),
			Description: strings.TrimSpace(string(t.Description)),
			Amount:      strings.TrimSpace(string(t.Amount)),
		})
	}
	return result, nil
}

// lenientString accepts numbers and null where the reply should hold a string.
type lenientString string

func (s *lenientString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = lenientString(str)
		return nil
	}
	switch v := string(b); v {
	case "null":
		*s = ""
	default:
		*s = lenientString(v)
	}
	return nil
}

// lenientBool reads booleans that arrive as strings or numbers. Anything it does not
// recognise is false.
type lenientBool bool

func (v *lenientBool) UnmarshalJSON(b []byte) error {
	var parsed any
	if err := json.Unmarshal(b, &parsed); err != nil {
		return err
	}
	switch x := parsed.(type) {
	case bool:
		*v = lenientBool(x)
	case float64:
		*v = x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "sim", "1":
			*v = true
		default:
			*v = false
		}
	default:
		*v = false
	}
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
