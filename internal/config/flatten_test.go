package config

import (
	"reflect"
	"testing"
)

func TestFlattenUnflatten(t *testing.T) {
	nested := map[string]any{
		"data_dir": "/var/lib/metatron",
		"llm": map[string]any{
			"provider":    "gemini",
			"temperature": 0.7,
		},
		"schedule": map[string]any{
			"health": "@every 1m",
		},
		"retry": map[string]any{},
	}
	want := map[string]any{
		"data_dir":        "/var/lib/metatron",
		"llm.provider":    "gemini",
		"llm.temperature": 0.7,
		"schedule.health": "@every 1m",
	}

	flat := Flatten(nested)
	if !reflect.DeepEqual(flat, want) {
		t.Fatalf("Flatten = %v, want %v", flat, want)
	}

	delete(nested, "retry") // empty objects do not survive a round trip
	if back := Unflatten(flat); !reflect.DeepEqual(back, nested) {
		t.Errorf("Unflatten = %v, want %v", back, nested)
	}
}

func TestKeysSorted(t *testing.T) {
	got := Keys(map[string]any{"retry.max_retries": 3, "data_dir": "d", "llm.model": "m"})
	want := []string{"data_dir", "llm.model", "retry.max_retries"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keys = %v, want %v", got, want)
	}
}

func TestIsSecretKey(t *testing.T) {
	for key, want := range map[string]bool{
		"llm.api_key":       true,
		"jina.api_key":      true,
		"brave.api_key":     true,
		"telegram.token":    true,
		"llm.model":         false,
		"llm.max_tokens":    false,
		"jina.max_requests": false,
	} {
		if got := IsSecretKey(key); got != want {
			t.Errorf("IsSecretKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestMaskSecrets(t *testing.T) {
	flat := map[string]any{
		"llm.api_key":    "AIzaSyExampleKey1234",
		"jina.api_key":   "short",
		"brave.api_key":  "",
		"telegram.token": nil,
		"llm.model":      "gemini-2.0-flash",
	}
	got := MaskSecrets(flat)
	want := map[string]any{
		"llm.api_key":    "***1234",
		"jina.api_key":   "***",
		"brave.api_key":  "",
		"telegram.token": nil,
		"llm.model":      "gemini-2.0-flash",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MaskSecrets = %v, want %v", got, want)
	}
	if flat["llm.api_key"] != "AIzaSyExampleKey1234" {
		t.Error("MaskSecrets modified its input")
	}
}
