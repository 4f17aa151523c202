package server

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/devcubo3/trabalho-mae/internal/types"
)

const (
	MULTI_PART_MAX_MEMORY = 1048576
	MAX_FIELD_LEN         = 64
	// multipart framing and the text fields on top of the PDF itself
	formOverhead = 1 << 20
)

var errMissingInput = errors.New("PDF e chave API são obrigatórios")

// parseAccountField trims a form value and falls back to def when it is blank.
func parseAccountField(name, value, def string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	if len(value) > MAX_FIELD_LEN {
		return "", fmt.Errorf("%w: %s is too long", types.ErrInvalidUpload, name)
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: illegal character in %s", types.ErrInvalidUpload, name)
		}
	}
	return value, nil
}

func parseJobID(raw string) (types.ID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", err
	}
	return types.ID(id.String()), nil
}
