package prompt

import (
	_ "embed"
	"strings"
)

//go:embed template/answer.txt
var answerRaw string

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Answer string
}

func LoadPromptSet() PromptSet {
	return PromptSet{
		Answer: strings.TrimSpace(answerRaw),
	}
}
