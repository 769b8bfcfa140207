// Package persona holds the assistant's identity: the system
// instruction card and the tool policy that shapes which tools the
// model sees and how they run.
package persona

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultInstruction is the file-assistant prompt the service ships
// with when no card file is configured.
const defaultInstruction = "You are a helpful assistant that can use tools to help users " +
	"manage their files and directories. Always provide clear and helpful responses. " +
	"If you use tools, explain what you found to the user in a friendly way."

// Card is a persona definition: YAML frontmatter over a Markdown body.
// The body is the system instruction sent to the model.
type Card struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`

	Instruction string `yaml:"-"`
}

// DefaultCard returns the compiled-in file-assistant persona.
func DefaultCard() *Card {
	return &Card{
		Name:        "file-assistant",
		Description: "Answers questions about the user's files and directories",
		Model:       "gemini-2.5-flash",
		Temperature: 0.1,
		Instruction: defaultInstruction,
	}
}

// LoadCard parses a persona card file. Fields missing from the
// frontmatter keep the default card's values.
func LoadCard(path string) (*Card, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open persona card: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	var inFrontmatter, frontmatterDone bool
	var yamlLines, bodyLines []string

	for scanner.Scan() {
		line := scanner.Text()
		if !frontmatterDone && strings.TrimSpace(line) == "---" {
			if inFrontmatter {
				frontmatterDone = true
			} else {
				inFrontmatter = true
			}
			continue
		}
		switch {
		case frontmatterDone:
			bodyLines = append(bodyLines, line)
		case inFrontmatter:
			yamlLines = append(yamlLines, line)
		default:
			// Content before any frontmatter is body text.
			bodyLines = append(bodyLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read persona card: %w", err)
	}

	card := DefaultCard()
	if len(yamlLines) > 0 {
		if err := yaml.Unmarshal([]byte(strings.Join(yamlLines, "\n")), card); err != nil {
			return nil, fmt.Errorf("parse persona frontmatter: %w", err)
		}
	}

	body := strings.TrimSpace(strings.Join(bodyLines, "\n"))
	if body == "" {
		return nil, fmt.Errorf("persona card %s has no instruction body", path)
	}
	card.Instruction = body
	return card, nil
}
