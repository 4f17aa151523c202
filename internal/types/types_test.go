package types_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devcubo3/trabalho-mae/internal/types"
)

func TestCredit(t *testing.T) {
	for kind, want := range map[string]bool{
		"C":       true,
		"c":       true,
		"CREDITO": true,
		"crédito": true,
		"D":       false,
		"":        false,
		"DEBITO":  false,
	} {
		require.Equal(t, want, types.Transaction{Kind: kind}.Credit(), kind)
	}
}

func TestProgressEventKeepsZeroPage(t *testing.T) {
	b, err := json.Marshal(types.Progress(0, 0, "Iniciando processamento..."))
	require.NoError(t, err)
	require.JSONEq(t, `{"tipo":"progresso","pagina":0,"total":0,"mensagem":"Iniciando processamento..."}`, string(b))

	b, err = json.Marshal(types.Completed("movimentacao_x.docx", 3, "ok"))
	require.NoError(t, err)
	require.JSONEq(t, `{"tipo":"concluido","mensagem":"ok","arquivo":"movimentacao_x.docx","total_lancamentos":3}`, string(b))
}

func TestIsNotFound(t *testing.T) {
	require.True(t, types.IsNotFound(types.ErrJobNotFound{ID: "x"}))
	require.True(t, types.IsNotFound(types.ErrFileNotExists{Name: "x"}))
	require.False(t, types.IsNotFound(types.ErrQueueFull))
}
