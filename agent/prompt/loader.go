package prompt

import (
	_ "embed"
	"fmt"
	"strings"
)

var (
	//go:embed template/persona.txt
	personaRaw string

	//go:embed template/classifier.txt
	classifierRaw string
)

const memoryHeader = "Relevant Past Memories:"

type PromptSet struct {
	Persona    string
	Classifier string
}

func LoadPromptSet() PromptSet {
	return PromptSet{
		Persona:    strings.TrimSpace(personaRaw),
		Classifier: strings.TrimSpace(classifierRaw),
	}
}

// SystemMessage joins the persona with the retrieved memory snippets, if any.
func SystemMessage(persona string, memories []string) string {
	persona = strings.TrimSpace(persona)
	if len(memories) == 0 {
		return persona
	}
	return fmt.Sprintf("%s\n\n%s\n%s", persona, memoryHeader, strings.Join(memories, "\n---\n"))
}
