package engines

import (
	"context"
	"strings"
)

// Pseudo is an offline engine that pseudo-localises text instead of
// translating it. It is used for dry runs of a whole batch without touching a
// real backend.
type Pseudo struct{}

var accents = strings.NewReplacer(
	"a", "á", "e", "é", "i", "í", "o", "ó", "u", "ú",
	"A", "Á", "E", "É", "I", "Í", "O", "Ó", "U", "Ú",
)

func (Pseudo) Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	out := make([]string, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = "[" + targetLang + "] " + accents.Replace(t)
	}
	return out, nil
}
