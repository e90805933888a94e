package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

func writeYAML(path string, data any) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  skipped %s (already exists)\n", path)
		return nil
	}

	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("  created %s\n", path)
	return nil
}

func writeExampleConfig(path string) error {
	data := map[string]any{
		"default_provider": "twilio",
		"environment":      "development",
		"log_level":        "info",
		"request_timeout":  "30s",
		"concurrency":      4,
		"timeout":          "2m",
		"output_dir":       "results/",
		"providers": map[string]any{
			"twilio": map[string]any{
				"api_key_env":    "TWILIO_API_KEY",
				"api_secret_env": "TWILIO_API_SECRET",
				"account_id_env": "TWILIO_ACCOUNT_SID",
			},
			"livekit": map[string]any{
				"api_key_env":    "LIVEKIT_API_KEY",
				"api_secret_env": "LIVEKIT_API_SECRET",
				"url":            "https://livekit.example.com",
			},
		},
	}
	return writeYAML(path, data)
}

func writeExampleScenario(path string) error {
	data := map[string]any{
		"name":        "family-visit",
		"description": "A resident and a visitor meet; the visit is recorded",
		"tags":        []string{"recording"},
		"steps": []map[string]any{
			{
				"op":     "create_room",
				"as":     "visit",
				"room":   map[string]any{"name": "family-visit", "max_participants": 4},
				"expect": map[string]any{"max_participants": 4, "layout": "grid"},
			},
			{
				"op":          "join_room",
				"room_ref":    "visit",
				"participant": map[string]any{"id": "res-1", "name": "Resident", "role": "resident"},
				"expect":      map[string]any{"participants": 1},
			},
			{
				"op":       "start_recording",
				"room_ref": "visit",
				"expect":   map[string]any{"recording_status": "active"},
			},
			{
				"op":       "stop_recording",
				"room_ref": "visit",
				"expect":   map[string]any{"recording_status": "stopped"},
			},
		},
	}
	return writeYAML(path, data)
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
