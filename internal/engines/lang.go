package engines

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// AutoDetect is the source language that leaves detection to the engine.
const AutoDetect = "auto"

var (
	ErrAutoTarget      = errors.New("target language cannot be detected automatically")
	ErrInvalidLanguage = errors.New("invalid language")
)

// NormalizeLanguage returns the canonical BCP 47 form of tag, so "pt_BR",
// "PT-br" and "pt-BR" are the same language. With allowAuto an empty tag or
// "auto" yields AutoDetect.
func NormalizeLanguage(tag string, allowAuto bool) (string, error) {
	tag = strings.TrimSpace(tag)
	isAuto := strings.EqualFold(tag, AutoDetect)
	switch {
	case allowAuto && (tag == "" || isAuto):
		return AutoDetect, nil
	case isAuto:
		return "", ErrAutoTarget
	}
	t, err := language.Parse(strings.ReplaceAll(tag, "_", "-"))
	if err != nil || t == language.Und {
		return "", fmt.Errorf("%w %q", ErrInvalidLanguage, tag)
	}
	return t.String(), nil
}
