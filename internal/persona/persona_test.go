package persona

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charla-ai/charla/internal/interfaces"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadCard(t *testing.T) {
	path := writeFile(t, "card.md", `---
name: archivero
description: ayudante de archivos
model: gemini-2.5-pro
temperature: 0.4
---

Eres un asistente que ayuda a gestionar archivos.
Responde siempre en español.
`)

	card, err := LoadCard(path)
	if err != nil {
		t.Fatalf("LoadCard: %v", err)
	}
	if card.Name != "archivero" {
		t.Errorf("name = %q", card.Name)
	}
	if card.Model != "gemini-2.5-pro" {
		t.Errorf("model = %q", card.Model)
	}
	if card.Temperature != 0.4 {
		t.Errorf("temperature = %v", card.Temperature)
	}
	want := "Eres un asistente que ayuda a gestionar archivos.\nResponde siempre en español."
	if card.Instruction != want {
		t.Errorf("instruction = %q", card.Instruction)
	}
}

func TestLoadCardWithoutFrontmatterKeepsDefaults(t *testing.T) {
	path := writeFile(t, "card.md", "Just answer file questions.\n")

	card, err := LoadCard(path)
	if err != nil {
		t.Fatalf("LoadCard: %v", err)
	}
	if card.Instruction != "Just answer file questions." {
		t.Errorf("instruction = %q", card.Instruction)
	}
	if card.Model != "gemini-2.5-flash" {
		t.Errorf("expected default model, got %q", card.Model)
	}
	if card.Temperature != 0.1 {
		t.Errorf("expected default temperature, got %v", card.Temperature)
	}
}

func TestLoadCardRejectsEmptyBody(t *testing.T) {
	path := writeFile(t, "card.md", `---
name: vacio
---
`)
	if _, err := LoadCard(path); err == nil {
		t.Fatal("expected error for card without instruction body")
	}
}

func TestLoadCardMissingFile(t *testing.T) {
	if _, err := LoadCard(filepath.Join(t.TempDir(), "nope.md")); err == nil {
		t.Fatal("expected error for missing card file")
	}
}

func TestDefaultCard(t *testing.T) {
	card := DefaultCard()
	if card.Model != "gemini-2.5-flash" || card.Temperature != 0.1 {
		t.Errorf("unexpected defaults: %+v", card)
	}
	if card.Instruction == "" {
		t.Error("default card must carry an instruction")
	}
}

func descriptorsForPolicy() []interfaces.ToolDescriptor {
	return []interfaces.ToolDescriptor{
		{Name: "recuperar_directorios_principales", Description: "top-level directories"},
		{Name: "recuperar_archivos_directorio", Description: "files in a directory"},
		{Name: "borrar_archivo", Description: "delete a file"},
	}
}

func TestLoadPolicyAndApply(t *testing.T) {
	path := writeFile(t, "policy.toml", `
deny = ["borrar_archivo"]

[[override]]
name = "recuperar_archivos_directorio"
timeout_ms = 10000
description = "Lista archivos de un directorio del usuario"
`)

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}

	out := policy.Apply(descriptorsForPolicy())
	if len(out) != 2 {
		t.Fatalf("expected 2 tools after deny, got %d", len(out))
	}
	if out[0].Name != "recuperar_directorios_principales" || out[1].Name != "recuperar_archivos_directorio" {
		t.Errorf("order not preserved: %+v", out)
	}
	if out[1].Description != "Lista archivos de un directorio del usuario" {
		t.Errorf("description override not applied: %q", out[1].Description)
	}

	timeouts := policy.Timeouts()
	if timeouts["recuperar_archivos_directorio"] != 10*time.Second {
		t.Errorf("timeout override = %v", timeouts["recuperar_archivos_directorio"])
	}
}

func TestPolicyAllowListRestricts(t *testing.T) {
	policy := &Policy{Allow: []string{"recuperar_directorios_principales"}}

	out := policy.Apply(descriptorsForPolicy())
	if len(out) != 1 || out[0].Name != "recuperar_directorios_principales" {
		t.Fatalf("allow list not enforced: %+v", out)
	}
}

func TestPolicyDenyWinsOverAllow(t *testing.T) {
	policy := &Policy{
		Allow: []string{"borrar_archivo"},
		Deny:  []string{"borrar_archivo"},
	}
	if out := policy.Apply(descriptorsForPolicy()); len(out) != 0 {
		t.Fatalf("deny should win over allow, got %+v", out)
	}
}

func TestNilPolicyPassesThrough(t *testing.T) {
	var policy *Policy
	in := descriptorsForPolicy()
	out := policy.Apply(in)
	if len(out) != len(in) {
		t.Fatalf("nil policy must pass all tools, got %d", len(out))
	}
	if policy.Timeouts() != nil {
		t.Error("nil policy should have no timeouts")
	}
}
